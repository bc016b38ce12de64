// Package mock provides a gomock-based double for transport.Fabric, in
// the shape mockgen would generate for it, so step and exchange logic can
// be unit-tested against an exact sequence of expected collective calls
// instead of a real (in-process or network) fabric.
package mock

import (
	"context"
	"reflect"

	"github.com/gcm3d-project/solver/internal/transport"

	"github.com/golang/mock/gomock"
)

var _ transport.Fabric = (*Fabric)(nil)

// Fabric is a mock of the transport.Fabric interface.
type Fabric struct {
	ctrl     *gomock.Controller
	recorder *FabricMockRecorder
}

// FabricMockRecorder is the recorder for Fabric.
type FabricMockRecorder struct {
	mock *Fabric
}

// NewFabric returns a new mock Fabric.
func NewFabric(ctrl *gomock.Controller) *Fabric {
	m := &Fabric{ctrl: ctrl}
	m.recorder = &FabricMockRecorder{m}
	return m
}

// EXPECT returns an object that allows the caller to indicate expected use.
func (m *Fabric) EXPECT() *FabricMockRecorder {
	return m.recorder
}

func (m *Fabric) Rank() int {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "Rank")
	return ret[0].(int)
}

func (mr *FabricMockRecorder) Rank() *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "Rank", reflect.TypeOf((*Fabric)(nil).Rank))
}

func (m *Fabric) WorldSize() int {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "WorldSize")
	return ret[0].(int)
}

func (mr *FabricMockRecorder) WorldSize() *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "WorldSize", reflect.TypeOf((*Fabric)(nil).WorldSize))
}

func (m *Fabric) Barrier(ctx context.Context) error {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "Barrier", ctx)
	err, _ := ret[0].(error)
	return err
}

func (mr *FabricMockRecorder) Barrier(ctx any) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "Barrier", reflect.TypeOf((*Fabric)(nil).Barrier), ctx)
}

func (m *Fabric) AllReduceMin(ctx context.Context, local float32) (float32, error) {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "AllReduceMin", ctx, local)
	err, _ := ret[1].(error)
	return ret[0].(float32), err
}

func (mr *FabricMockRecorder) AllReduceMin(ctx, local any) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "AllReduceMin", reflect.TypeOf((*Fabric)(nil).AllReduceMin), ctx, local)
}

func (m *Fabric) AllGather(ctx context.Context, local []byte, counts []int) ([][]byte, error) {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "AllGather", ctx, local, counts)
	err, _ := ret[1].(error)
	out, _ := ret[0].([][]byte)
	return out, err
}

func (mr *FabricMockRecorder) AllGather(ctx, local, counts any) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "AllGather", reflect.TypeOf((*Fabric)(nil).AllGather), ctx, local, counts)
}

func (m *Fabric) Send(ctx context.Context, dstRank int, tag transport.Tag, payload []byte) (*transport.PendingSend, error) {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "Send", ctx, dstRank, tag, payload)
	err, _ := ret[1].(error)
	out, _ := ret[0].(*transport.PendingSend)
	return out, err
}

func (mr *FabricMockRecorder) Send(ctx, dstRank, tag, payload any) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "Send", reflect.TypeOf((*Fabric)(nil).Send), ctx, dstRank, tag, payload)
}

func (m *Fabric) Recv(ctx context.Context, srcRank int, tag transport.Tag) ([]byte, error) {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "Recv", ctx, srcRank, tag)
	err, _ := ret[1].(error)
	out, _ := ret[0].([]byte)
	return out, err
}

func (mr *FabricMockRecorder) Recv(ctx, srcRank, tag any) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "Recv", reflect.TypeOf((*Fabric)(nil).Recv), ctx, srcRank, tag)
}

func (m *Fabric) SendHeader(ctx context.Context, dstRank int, tag transport.Tag, payload []byte) (*transport.PendingSend, error) {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "SendHeader", ctx, dstRank, tag, payload)
	err, _ := ret[1].(error)
	out, _ := ret[0].(*transport.PendingSend)
	return out, err
}

func (mr *FabricMockRecorder) SendHeader(ctx, dstRank, tag, payload any) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "SendHeader", reflect.TypeOf((*Fabric)(nil).SendHeader), ctx, dstRank, tag, payload)
}

func (m *Fabric) Probe(ctx context.Context, tag transport.Tag) (int, []byte, error) {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "Probe", ctx, tag)
	err, _ := ret[2].(error)
	payload, _ := ret[1].([]byte)
	return ret[0].(int), payload, err
}

func (mr *FabricMockRecorder) Probe(ctx, tag any) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "Probe", reflect.TypeOf((*Fabric)(nil).Probe), ctx, tag)
}

func (m *Fabric) WaitAll(pending ...*transport.PendingSend) error {
	m.ctrl.T.Helper()
	varargs := make([]any, len(pending))
	for i, p := range pending {
		varargs[i] = p
	}
	ret := m.ctrl.Call(m, "WaitAll", varargs...)
	err, _ := ret[0].(error)
	return err
}

func (mr *FabricMockRecorder) WaitAll(pending ...any) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "WaitAll", reflect.TypeOf((*Fabric)(nil).WaitAll), pending...)
}

func (m *Fabric) Close() error {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "Close")
	err, _ := ret[0].(error)
	return err
}

func (mr *FabricMockRecorder) Close() *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "Close", reflect.TypeOf((*Fabric)(nil).Close))
}
