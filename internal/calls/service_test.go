package calls

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/Gokul-madhav/home-ring/internal/apperr"
	"github.com/Gokul-madhav/home-ring/internal/credentials"
	"github.com/Gokul-madhav/home-ring/internal/devices"
	"github.com/Gokul-madhav/home-ring/internal/doors"
	"github.com/Gokul-madhav/home-ring/internal/push"
	"github.com/Gokul-madhav/home-ring/internal/store"
	"github.com/Gokul-madhav/home-ring/internal/store/storetest"
)

type sequenceProvider struct {
	prefix string
	next   int
}

func (p *sequenceProvider) NewID() (string, error) {
	p.next++
	return p.prefix + strconv.Itoa(p.next), nil
}

type recordingNotifier struct {
	invites []push.Invite
}

func (n *recordingNotifier) Notify(_ context.Context, invite push.Invite) {
	n.invites = append(n.invites, invite)
}

type recordingEvents struct {
	events []Event
}

func (r *recordingEvents) PublishCallEvent(event Event) {
	r.events = append(r.events, event)
}

type fixture struct {
	store    *store.GormStore
	clock    *storetest.Clock
	calls    *Service
	doors    *doors.Service
	devices  *devices.Service
	registry *push.Registry
	notifier *recordingNotifier
	events   *recordingEvents
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	nodeStore := storetest.New(t)
	clock := storetest.NewClock(time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC))

	doorService, err := doors.NewService(doors.ServiceConfig{
		Store:      nodeStore,
		IDProvider: &sequenceProvider{prefix: "door-"},
		Clock:      clock.Now,
	})
	if err != nil {
		t.Fatalf("failed to construct door service: %v", err)
	}
	deviceService, err := devices.NewService(devices.ServiceConfig{Store: nodeStore, Clock: clock.Now})
	if err != nil {
		t.Fatalf("failed to construct device service: %v", err)
	}
	registry, err := push.NewRegistry(push.RegistryConfig{Store: nodeStore, Clock: clock.Now})
	if err != nil {
		t.Fatalf("failed to construct registry: %v", err)
	}
	signer, err := credentials.NewJWTSigner("app-1", "secret-1")
	if err != nil {
		t.Fatalf("failed to construct signer: %v", err)
	}
	issuer, err := credentials.NewIssuer(credentials.IssuerConfig{Signer: signer, AppID: "app-1", Clock: clock.Now})
	if err != nil {
		t.Fatalf("failed to construct issuer: %v", err)
	}
	notifier := &recordingNotifier{}
	events := &recordingEvents{}
	callService, err := NewService(ServiceConfig{
		Store:      nodeStore,
		Presence:   deviceService,
		Tokens:     registry,
		Notifier:   notifier,
		Issuer:     issuer,
		Events:     events,
		IDProvider: &sequenceProvider{prefix: "call-"},
		Clock:      clock.Now,
	})
	if err != nil {
		t.Fatalf("failed to construct call service: %v", err)
	}
	return &fixture{
		store:    nodeStore,
		clock:    clock,
		calls:    callService,
		doors:    doorService,
		devices:  deviceService,
		registry: registry,
		notifier: notifier,
		events:   events,
	}
}

// readyDoor provisions a door claimed by owner with a bound device and a push token.
func (f *fixture) readyDoor(t *testing.T, ownerID string) string {
	t.Helper()
	ctx := context.Background()
	door, _, err := f.doors.Generate(ctx)
	if err != nil {
		t.Fatalf("generate failed: %v", err)
	}
	if _, err := f.doors.Activate(ctx, door.ID, ownerID, "+15550100"); err != nil {
		t.Fatalf("activate failed: %v", err)
	}
	if _, err := f.devices.Bind(ctx, ownerID, "device-"+ownerID); err != nil {
		t.Fatalf("bind failed: %v", err)
	}
	if err := f.registry.Register(ctx, ownerID, "token-"+ownerID); err != nil {
		t.Fatalf("register failed: %v", err)
	}
	return door.ID
}

func (f *fixture) logEntry(t *testing.T, ownerID, callID string) CallLogEntry {
	t.Helper()
	page, err := f.calls.Logs(context.Background(), ownerID, 0)
	if err != nil {
		t.Fatalf("logs failed: %v", err)
	}
	for _, entry := range page.Logs {
		if entry.CallID == callID {
			return entry
		}
	}
	t.Fatalf("no log entry for %s in %#v", callID, page.Logs)
	return CallLogEntry{}
}

func expectError(t *testing.T, err error, kind apperr.Kind, code string) *apperr.Error {
	t.Helper()
	appErr, ok := apperr.As(err)
	if !ok {
		t.Fatalf("expected app error %s, got %v", code, err)
	}
	if appErr.Kind != kind || appErr.Code != code {
		t.Fatalf("expected %s/%s, got %s/%s", kind, code, appErr.Kind, appErr.Code)
	}
	return appErr
}

func TestCreateRequiresReachableOwner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	door, _, _ := f.doors.Generate(ctx)
	if _, err := f.doors.Activate(ctx, door.ID, "owner-1", ""); err != nil {
		t.Fatalf("activate failed: %v", err)
	}

	_, err := f.calls.Create(ctx, door.ID, "Alice")
	expectError(t, err, apperr.KindConflict, "calls.create.owner_offline")

	if _, err := f.devices.Bind(ctx, "owner-1", "device-x"); err != nil {
		t.Fatalf("bind failed: %v", err)
	}
	_, err = f.calls.Create(ctx, door.ID, "Alice")
	expectError(t, err, apperr.KindConflict, "calls.create.no_registered_devices")
	if len(f.notifier.invites) != 0 {
		t.Fatalf("expected no invites for rejected calls, got %d", len(f.notifier.invites))
	}

	if err := f.registry.Register(ctx, "owner-1", "token-y"); err != nil {
		t.Fatalf("register failed: %v", err)
	}
	call, err := f.calls.Create(ctx, door.ID, "Alice")
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if call.ID == "" || call.Token == "" || call.Status != StatusRinging {
		t.Fatalf("unexpected call %#v", call)
	}
	if call.OwnerID != "owner-1" || call.VisitorName != "Alice" || call.AppID != "app-1" {
		t.Fatalf("unexpected call identity %#v", call)
	}
	if want := "doorbell_" + door.ID + "_"; !strings.HasPrefix(call.ChannelName, want) {
		t.Fatalf("expected channel prefix %q, got %q", want, call.ChannelName)
	}
	if parts := strings.Split(call.Token, "."); len(parts) != 3 {
		t.Fatalf("expected a signed jwt credential, got %q", call.Token)
	}

	incoming, err := f.calls.Incoming(ctx, "owner-1")
	if err != nil {
		t.Fatalf("incoming failed: %v", err)
	}
	if len(incoming) != 1 || incoming[0].ID != call.ID || incoming[0].Status != StatusRinging {
		t.Fatalf("expected ringing call in incoming, got %#v", incoming)
	}

	if len(f.notifier.invites) != 1 || f.notifier.invites[0].CallID != call.ID || f.notifier.invites[0].Token != call.Token {
		t.Fatalf("unexpected invites %#v", f.notifier.invites)
	}
	if len(f.events.events) != 1 || f.events.events[0].Type != EventInvite {
		t.Fatalf("unexpected events %#v", f.events.events)
	}
	if entry := f.logEntry(t, "owner-1", call.ID); entry.Status != LogStatusRinging || entry.VisitorName != "Alice" {
		t.Fatalf("unexpected log entry %#v", entry)
	}

	stored, err := f.doors.Get(ctx, door.ID)
	if err != nil {
		t.Fatalf("door get failed: %v", err)
	}
	if stored.LastActivity == nil || !stored.LastActivity.Equal(call.CreatedAt) {
		t.Fatalf("expected door activity at %v, got %v", call.CreatedAt, stored.LastActivity)
	}
}

func TestCreateRejectsUnknownAndInactiveDoors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.calls.Create(ctx, "missing", "")
	expectError(t, err, apperr.KindNotFound, "calls.create.door_not_found")

	unclaimed, _, _ := f.doors.Generate(ctx)
	_, err = f.calls.Create(ctx, unclaimed.ID, "")
	appErr := expectError(t, err, apperr.KindConflict, "calls.create.door_inactive")
	if appErr.Status != http.StatusBadRequest {
		t.Fatalf("expected 400 override, got %d", appErr.Status)
	}

	doorID := f.readyDoor(t, "owner-1")
	if err := f.doors.Deactivate(ctx, doorID, ""); err != nil {
		t.Fatalf("deactivate failed: %v", err)
	}
	_, err = f.calls.Create(ctx, doorID, "")
	expectError(t, err, apperr.KindConflict, "calls.create.door_inactive")

	_, err = f.calls.Create(ctx, " ", "")
	expectError(t, err, apperr.KindValidation, "calls.create.missing_door_id")
}

func TestCreateDefaultsVisitorNameAndUniqueChannels(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	doorID := f.readyDoor(t, "owner-1")

	first, err := f.calls.Create(ctx, doorID, "  ")
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	second, err := f.calls.Create(ctx, doorID, "")
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if first.VisitorName != DefaultVisitorName {
		t.Fatalf("expected default visitor name, got %q", first.VisitorName)
	}
	if first.ChannelName == second.ChannelName {
		t.Fatalf("expected unique channel names, both %q", first.ChannelName)
	}
	if first.OwnerPhone != "+15550100" {
		t.Fatalf("expected owner phone snapshot, got %q", first.OwnerPhone)
	}
}

func TestAcceptThenEndLogsApproved(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	doorID := f.readyDoor(t, "owner-1")
	call, err := f.calls.Create(ctx, doorID, "Alice")
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	f.clock.Advance(10 * time.Second)
	accepted, err := f.calls.Accept(ctx, call.ID)
	if err != nil {
		t.Fatalf("accept failed: %v", err)
	}
	if accepted.Status != StatusAccepted || accepted.AcceptedAt == nil {
		t.Fatalf("unexpected accepted call %#v", accepted)
	}
	if entry := f.logEntry(t, "owner-1", call.ID); entry.Status != LogStatusApproved || entry.AcceptedAt == nil {
		t.Fatalf("expected approved log after accept, got %#v", entry)
	}

	f.clock.Advance(time.Minute)
	ended, err := f.calls.End(ctx, call.ID)
	if err != nil {
		t.Fatalf("end failed: %v", err)
	}
	if ended.Status != StatusEnded || ended.EndedAt == nil || ended.AcceptedAt == nil {
		t.Fatalf("unexpected ended call %#v", ended)
	}

	page, err := f.calls.Logs(ctx, "owner-1", 0)
	if err != nil {
		t.Fatalf("logs failed: %v", err)
	}
	if len(page.Logs) != 1 {
		t.Fatalf("expected one log entry, got %d", len(page.Logs))
	}
	entry := page.Logs[0]
	if entry.Status != LogStatusApproved || entry.AcceptedAt == nil || entry.EndedAt == nil {
		t.Fatalf("expected approved entry with both timestamps, got %#v", entry)
	}
	if page.Counts != (LogCounts{Approved: 1, Declined: 0, Total: 1}) {
		t.Fatalf("unexpected counts %#v", page.Counts)
	}

	incoming, _ := f.calls.Incoming(ctx, "owner-1")
	if len(incoming) != 0 {
		t.Fatalf("expected no ringing calls, got %#v", incoming)
	}
	types := []EventType{}
	for _, event := range f.events.events {
		types = append(types, event.Type)
	}
	if len(types) != 3 || types[1] != EventAccepted || types[2] != EventEnded {
		t.Fatalf("unexpected event sequence %v", types)
	}
}

func TestEndWithoutAcceptLogsDeclined(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	doorID := f.readyDoor(t, "owner-1")
	call, _ := f.calls.Create(ctx, doorID, "Bob")

	f.clock.Advance(5 * time.Second)
	if _, err := f.calls.End(ctx, call.ID); err != nil {
		t.Fatalf("end failed: %v", err)
	}
	entry := f.logEntry(t, "owner-1", call.ID)
	if entry.Status != LogStatusDeclined || entry.AcceptedAt != nil || entry.EndedAt == nil {
		t.Fatalf("expected declined entry, got %#v", entry)
	}
}

func TestEndedCallIsTerminal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	doorID := f.readyDoor(t, "owner-1")
	call, _ := f.calls.Create(ctx, doorID, "")

	first, err := f.calls.End(ctx, call.ID)
	if err != nil {
		t.Fatalf("end failed: %v", err)
	}

	f.clock.Advance(time.Minute)
	_, err = f.calls.Accept(ctx, call.ID)
	expectError(t, err, apperr.KindConflict, "calls.accept.call_ended")

	again, err := f.calls.End(ctx, call.ID)
	if err != nil {
		t.Fatalf("second end failed: %v", err)
	}
	if !again.EndedAt.Equal(*first.EndedAt) {
		t.Fatalf("second end moved endedAt from %v to %v", first.EndedAt, again.EndedAt)
	}

	status, err := f.calls.Status(ctx, call.ID)
	if err != nil {
		t.Fatalf("status failed: %v", err)
	}
	if status.Status != StatusEnded || status.AcceptedAt != nil {
		t.Fatalf("ended call changed state: %#v", status)
	}
	if entry := f.logEntry(t, "owner-1", call.ID); entry.Status != LogStatusDeclined {
		t.Fatalf("expected log to stay declined, got %s", entry.Status)
	}
}

func TestAcceptIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	doorID := f.readyDoor(t, "owner-1")
	call, _ := f.calls.Create(ctx, doorID, "")

	first, err := f.calls.Accept(ctx, call.ID)
	if err != nil {
		t.Fatalf("accept failed: %v", err)
	}
	f.clock.Advance(time.Minute)
	second, err := f.calls.Accept(ctx, call.ID)
	if err != nil {
		t.Fatalf("second accept failed: %v", err)
	}
	if !second.AcceptedAt.Equal(*first.AcceptedAt) {
		t.Fatalf("second accept moved acceptedAt from %v to %v", first.AcceptedAt, second.AcceptedAt)
	}
}

func TestUnknownCallIsNotFound(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.calls.Status(ctx, "nope")
	expectError(t, err, apperr.KindNotFound, "calls.status.call_not_found")
	_, err = f.calls.Token(ctx, "nope")
	expectError(t, err, apperr.KindNotFound, "calls.token.call_not_found")
	_, err = f.calls.Accept(ctx, "nope")
	expectError(t, err, apperr.KindNotFound, "calls.accept.call_not_found")
	_, err = f.calls.End(ctx, "nope")
	expectError(t, err, apperr.KindNotFound, "calls.end.call_not_found")
}

func TestTokenReturnsIssuedCredential(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	doorID := f.readyDoor(t, "owner-1")
	call, _ := f.calls.Create(ctx, doorID, "")

	credential, err := f.calls.Token(ctx, call.ID)
	if err != nil {
		t.Fatalf("token failed: %v", err)
	}
	if credential.Token != call.Token || credential.ChannelName != call.ChannelName || credential.AppID != "app-1" {
		t.Fatalf("unexpected credential %#v", credential)
	}
	if credential.ExpiresAt == nil || !credential.ExpiresAt.Equal(call.CreatedAt.Add(credentials.DefaultTTL)) {
		t.Fatalf("expected one hour expiry, got %v", credential.ExpiresAt)
	}

	legacy := Call{ID: "legacy", DoorID: doorID, OwnerID: "owner-1", Status: StatusRinging, CreatedAt: f.clock.Now()}
	if err := f.store.Set(ctx, callPath("legacy"), legacy); err != nil {
		t.Fatalf("seed failed: %v", err)
	}
	_, err = f.calls.Token(ctx, "legacy")
	expectError(t, err, apperr.KindNotFound, "calls.token.credential_missing")
}

func TestLogsPageNewestFirstWithFullCounts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	doorID := f.readyDoor(t, "owner-1")

	callIDs := make([]string, 0, 5)
	for i := 0; i < 5; i++ {
		call, err := f.calls.Create(ctx, doorID, "visitor-"+strconv.Itoa(i))
		if err != nil {
			t.Fatalf("create %d failed: %v", i, err)
		}
		callIDs = append(callIDs, call.ID)
		f.clock.Advance(time.Second)
	}
	_, _ = f.calls.Accept(ctx, callIDs[0])
	_, _ = f.calls.End(ctx, callIDs[0])
	_, _ = f.calls.End(ctx, callIDs[1])
	_, _ = f.calls.End(ctx, callIDs[2])

	page, err := f.calls.Logs(ctx, "owner-1", 2)
	if err != nil {
		t.Fatalf("logs failed: %v", err)
	}
	if len(page.Logs) != 2 || page.Logs[0].CallID != callIDs[4] || page.Logs[1].CallID != callIDs[3] {
		t.Fatalf("expected newest two entries, got %#v", page.Logs)
	}
	if page.Counts != (LogCounts{Approved: 1, Declined: 2, Total: 5}) {
		t.Fatalf("counts must cover the full history, got %#v", page.Counts)
	}

	full, _ := f.calls.Logs(ctx, "owner-1", 100)
	if full.Counts != page.Counts || len(full.Logs) != 5 {
		t.Fatalf("counts depend on limit: %#v vs %#v", full.Counts, page.Counts)
	}

	_, err = f.calls.Logs(ctx, "", 10)
	expectError(t, err, apperr.KindValidation, "calls.logs.missing_owner_id")
}

func TestIncomingIsScopedToOwner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	doorA := f.readyDoor(t, "owner-a")
	doorB := f.readyDoor(t, "owner-b")

	callA, _ := f.calls.Create(ctx, doorA, "")
	_, _ = f.calls.Create(ctx, doorB, "")

	incoming, err := f.calls.Incoming(ctx, "owner-a")
	if err != nil {
		t.Fatalf("incoming failed: %v", err)
	}
	if len(incoming) != 1 || incoming[0].ID != callA.ID {
		t.Fatalf("expected only owner-a's call, got %#v", incoming)
	}
	_, err = f.calls.Incoming(ctx, "")
	expectError(t, err, apperr.KindValidation, "calls.incoming.missing_owner_id")
}

func TestSweepStaleEndsOnlyOldOpenCalls(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	doorID := f.readyDoor(t, "owner-1")

	staleRinging, _ := f.calls.Create(ctx, doorID, "")
	staleAccepted, _ := f.calls.Create(ctx, doorID, "")
	alreadyEnded, _ := f.calls.Create(ctx, doorID, "")
	_, _ = f.calls.Accept(ctx, staleAccepted.ID)
	ended, _ := f.calls.End(ctx, alreadyEnded.ID)

	f.clock.Advance(6 * time.Minute)
	fresh, _ := f.calls.Create(ctx, doorID, "")

	swept, err := f.calls.SweepStale(ctx, 5*time.Minute)
	if err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if swept != 2 {
		t.Fatalf("expected two calls swept, got %d", swept)
	}

	for _, id := range []string{staleRinging.ID, staleAccepted.ID} {
		call, _ := f.calls.Status(ctx, id)
		if call.Status != StatusEnded || call.EndedAt == nil || !call.EndedAt.Equal(f.clock.Now()) {
			t.Fatalf("expected %s force-ended now, got %#v", id, call)
		}
	}
	if entry := f.logEntry(t, "owner-1", staleRinging.ID); entry.Status != LogStatusDeclined || entry.EndedAt == nil {
		t.Fatalf("expected swept ringing call declined, got %#v", entry)
	}
	if entry := f.logEntry(t, "owner-1", staleAccepted.ID); entry.Status != LogStatusApproved || entry.EndedAt == nil {
		t.Fatalf("expected swept accepted call approved, got %#v", entry)
	}

	untouched, _ := f.calls.Status(ctx, fresh.ID)
	if untouched.Status != StatusRinging || untouched.EndedAt != nil {
		t.Fatalf("fresh call was swept: %#v", untouched)
	}
	kept, _ := f.calls.Status(ctx, alreadyEnded.ID)
	if !kept.EndedAt.Equal(*ended.EndedAt) {
		t.Fatalf("already ended call was rewritten: %#v", kept)
	}

	again, err := f.calls.SweepStale(ctx, 5*time.Minute)
	if err != nil || again != 0 {
		t.Fatalf("expected idempotent second sweep, got %d, %v", again, err)
	}
}

func TestChannelNameIsUniquePerCallWithinOneMillisecond(t *testing.T) {
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	first := channelName("door-1", at, "0190f3a2-7c11-7d4e-8a01-aaaabbbb0001")
	second := channelName("door-1", at, "0190f3a2-7c11-7d4e-8a01-aaaabbbb0002")
	if first == second {
		t.Fatalf("expected distinct channels for distinct calls, both %q", first)
	}
	want := "doorbell_door-1_" + strconv.FormatInt(at.UnixMilli(), 10) + "_bbbb0001"
	if first != want {
		t.Fatalf("expected %q, got %q", want, first)
	}
	if short := channelName("door-1", at, "call-7"); short != "doorbell_door-1_"+strconv.FormatInt(at.UnixMilli(), 10)+"_call7" {
		t.Fatalf("unexpected channel for short id %q", short)
	}
}
