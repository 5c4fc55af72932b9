package handlers

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moongate-community/moongate/internal/db"
	"github.com/moongate-community/moongate/internal/dispatch"
	"github.com/moongate-community/moongate/internal/network"
	"github.com/moongate-community/moongate/internal/protocol"
	"github.com/moongate-community/moongate/internal/scheduler"
)

type sentPacket struct {
	connID string
	packet protocol.Packet
}

type fakeSender struct {
	mu   sync.Mutex
	sent []sentPacket
}

func (s *fakeSender) Send(_ context.Context, connID string, p protocol.Packet) error {
	s.mu.Lock()
	s.sent = append(s.sent, sentPacket{connID, p})
	s.mu.Unlock()
	return nil
}

type fakeCredentials struct {
	err error
}

func (f fakeCredentials) CheckCredentials(context.Context, string, string) error { return f.err }

type fakeHistory struct {
	results []string
}

func (f *fakeHistory) RecordLogin(_ context.Context, _, _, result, _ string) error {
	f.results = append(f.results, result)
	return nil
}

type fixture struct {
	registry *network.ConnectionRegistry
	sender   *fakeSender
	history  *fakeHistory
	dispatch *dispatch.Dispatcher
}

func newFixture(t *testing.T, creds CredentialChecker) *fixture {
	t.Helper()
	f := &fixture{
		registry: network.NewConnectionRegistry(nil),
		sender:   &fakeSender{},
		history:  &fakeHistory{},
	}
	sched := scheduler.InlineScheduler{}
	f.dispatch = dispatch.NewDispatcher(sched, nil, nil)
	h := New(Deps{
		Connections: f.registry,
		Sender:      f.sender,
		Scheduler:   sched,
		Credentials: creds,
		History:     f.history,
	})
	require.NoError(t, h.Register(f.dispatch))
	return f
}

func (f *fixture) connect(t *testing.T) *network.Connection {
	t.Helper()
	server, client := net.Pipe()
	t.Cleanup(func() { _ = client.Close() })
	c := network.NewConnection(server, network.ConnectionOptions{})
	require.NoError(t, f.registry.Register(context.Background(), c))
	return c
}

func TestRegisterBindsBuiltins(t *testing.T) {
	f := newFixture(t, fakeCredentials{})

	for _, op := range []byte{protocol.OpLoginSeed, protocol.OpPing, protocol.OpLoginRequest, protocol.OpGameServerLogin} {
		assert.Equal(t, 1, f.dispatch.HandlerCount(op), protocol.FormatOpCode(op))
	}

	h := New(Deps{})
	assert.ErrorIs(t, h.Register(f.dispatch), dispatch.ErrDuplicateHandler)
}

func TestPingIsEchoed(t *testing.T) {
	f := newFixture(t, fakeCredentials{})
	c := f.connect(t)

	f.dispatch.Dispatch(context.Background(), c.ID(), &protocol.Ping{Sequence: 0x42})

	require.Len(t, f.sender.sent, 1)
	assert.Equal(t, c.ID(), f.sender.sent[0].connID)
	assert.Equal(t, &protocol.Ping{Sequence: 0x42}, f.sender.sent[0].packet)
}

func TestSeedRecordsClientVersion(t *testing.T) {
	f := newFixture(t, fakeCredentials{})
	c := f.connect(t)

	f.dispatch.Dispatch(context.Background(), c.ID(), &protocol.LoginSeed{Major: 7, Minor: 0, Revision: 15, Prototype: 1})

	assert.Equal(t, "7.0.15.1", c.Stats().ClientVersion)
}

func TestLoginSuccessAuthenticates(t *testing.T) {
	f := newFixture(t, fakeCredentials{})
	c := f.connect(t)

	f.dispatch.Dispatch(context.Background(), c.ID(), &protocol.LoginRequest{Account: "admin", Password: "secret"})

	assert.Equal(t, network.StateAuthenticated, c.State())
	assert.Equal(t, "admin", c.Account())
	assert.Empty(t, f.sender.sent)
	assert.Equal(t, []string{db.LoginAccepted}, f.history.results)
}

func TestLoginDeniedSendsReasonAndKicks(t *testing.T) {
	f := newFixture(t, fakeCredentials{err: &db.DeniedError{Account: "admin", Reason: protocol.DeniedAccountBlocked}})
	c := f.connect(t)

	f.dispatch.Dispatch(context.Background(), c.ID(), &protocol.LoginRequest{Account: "admin", Password: "secret"})

	require.Len(t, f.sender.sent, 1)
	assert.Equal(t, &protocol.LoginDenied{Reason: protocol.DeniedAccountBlocked}, f.sender.sent[0].packet)
	assert.False(t, c.IsConnected())
	assert.Zero(t, f.registry.Count())
	assert.Equal(t, []string{db.LoginRejected}, f.history.results)
}

func TestLoginServiceFailureReportsCommunicationProblem(t *testing.T) {
	f := newFixture(t, fakeCredentials{err: errors.New("database is locked")})
	c := f.connect(t)

	f.dispatch.Dispatch(context.Background(), c.ID(), &protocol.LoginRequest{Account: "admin", Password: "secret"})

	require.Len(t, f.sender.sent, 1)
	assert.Equal(t, &protocol.LoginDenied{Reason: protocol.DeniedCommunication}, f.sender.sent[0].packet)
	assert.False(t, c.IsConnected())
}

func TestLoginRejectsAccountInUse(t *testing.T) {
	f := newFixture(t, fakeCredentials{})
	first := f.connect(t)
	second := f.connect(t)

	f.dispatch.Dispatch(context.Background(), first.ID(), &protocol.LoginRequest{Account: "admin", Password: "pw"})
	f.dispatch.Dispatch(context.Background(), second.ID(), &protocol.GameServerLogin{Account: "ADMIN", Password: "pw"})

	assert.Equal(t, network.StateAuthenticated, first.State())
	assert.False(t, second.IsConnected())
	require.Len(t, f.sender.sent, 1)
	assert.Equal(t, second.ID(), f.sender.sent[0].connID)
	assert.Equal(t, &protocol.LoginDenied{Reason: protocol.DeniedAccountInUse}, f.sender.sent[0].packet)
}

func TestSecondLoginOnSameConnectionFails(t *testing.T) {
	f := newFixture(t, fakeCredentials{})
	c := f.connect(t)
	h := New(Deps{Connections: f.registry, Sender: f.sender, Scheduler: scheduler.InlineScheduler{}, Credentials: fakeCredentials{}})

	require.NoError(t, h.login(context.Background(), c.ID(), "admin", "pw"))
	assert.Error(t, h.login(context.Background(), c.ID(), "admin", "pw"))
	assert.Equal(t, network.StateAuthenticated, c.State())
}

func TestLoginUnknownConnection(t *testing.T) {
	f := newFixture(t, fakeCredentials{})
	h := New(Deps{Connections: f.registry, Sender: f.sender, Scheduler: scheduler.InlineScheduler{}, Credentials: fakeCredentials{}})

	err := h.login(context.Background(), "missing", "admin", "pw")
	assert.ErrorIs(t, err, network.ErrUnknownConnection)
}

// gatedCredentials parks every check until release is closed.
type gatedCredentials struct {
	arrived chan struct{}
	release chan struct{}
}

func (g *gatedCredentials) CheckCredentials(context.Context, string, string) error {
	g.arrived <- struct{}{}
	<-g.release
	return nil
}

func TestConcurrentLoginsClaimAccountOnce(t *testing.T) {
	creds := &gatedCredentials{arrived: make(chan struct{}, 2), release: make(chan struct{})}
	f := newFixture(t, creds)
	first := f.connect(t)
	second := f.connect(t)
	ctx := context.Background()

	firstDone := make(chan struct{})
	go func() {
		defer close(firstDone)
		f.dispatch.Dispatch(ctx, first.ID(), &protocol.LoginRequest{Account: "admin", Password: "pw"})
	}()

	select {
	case <-creds.arrived:
	case <-time.After(time.Second):
		t.Fatal("first login never reached the credential check")
	}

	// The first login is between its check and Authenticate.
	secondDone := make(chan struct{})
	go func() {
		defer close(secondDone)
		f.dispatch.Dispatch(ctx, second.ID(), &protocol.LoginRequest{Account: "Admin", Password: "pw"})
	}()

	select {
	case <-secondDone:
	case <-time.After(time.Second):
		close(creds.release)
		<-firstDone
		<-secondDone
		t.Fatal("second login on a claimed account reached the credential check")
	}

	close(creds.release)
	<-firstDone

	assert.Equal(t, network.StateAuthenticated, first.State())
	assert.Equal(t, "admin", first.Account())
	assert.False(t, second.IsConnected())
	assert.Empty(t, second.Account())

	f.sender.mu.Lock()
	defer f.sender.mu.Unlock()
	require.Len(t, f.sender.sent, 1)
	assert.Equal(t, second.ID(), f.sender.sent[0].connID)
	assert.Equal(t, &protocol.LoginDenied{Reason: protocol.DeniedAccountInUse}, f.sender.sent[0].packet)
}

func TestDeniedLoginReleasesAccount(t *testing.T) {
	f := newFixture(t, fakeCredentials{err: &db.DeniedError{Account: "admin", Reason: protocol.DeniedBadCredentials}})
	first := f.connect(t)
	second := f.connect(t)

	f.dispatch.Dispatch(context.Background(), first.ID(), &protocol.LoginRequest{Account: "admin", Password: "wrong"})
	require.False(t, first.IsConnected())

	assert.True(t, f.registry.ClaimAccount(second.ID(), "admin"))
}
