package conversation

import (
	"errors"
	"testing"

	"github.com/surajgopal85/talktor/pkg/types"
)

func TestRegistry_ConnectAnnouncesCapabilities(t *testing.T) {
	r := NewRegistry()
	ch := &fakeChannel{}

	r.Connect("sess-1", types.RoleDoctor, ch)

	msgs := ch.messages()
	if len(msgs) != 1 {
		t.Fatalf("messages after connect = %d, want 1", len(msgs))
	}
	welcome := msgs[0]
	if welcome.Type != types.MessageSystemStatus || welcome.Content != "connected" {
		t.Errorf("welcome = %s %q, want system_status connected", welcome.Type, welcome.Content)
	}
	if got := welcome.Metadata["role"]; got != "doctor" {
		t.Errorf("welcome role = %v, want doctor", got)
	}
	caps, ok := welcome.Metadata["capabilities"].([]string)
	if !ok || len(caps) != 3 {
		t.Fatalf("capabilities = %v, want the three server capabilities", welcome.Metadata["capabilities"])
	}
	if caps[0] != "audio_streaming" || caps[1] != "real_time_translation" || caps[2] != "medical_intelligence" {
		t.Errorf("capabilities = %v", caps)
	}

	if !r.Connected("sess-1", types.RoleDoctor) {
		t.Error("Connected = false after Connect")
	}
	if r.Connected("sess-1", types.RolePatient) {
		t.Error("Connected = true for role that never connected")
	}
}

func TestRegistry_ConnectSupersedes(t *testing.T) {
	r := NewRegistry()
	old := &fakeChannel{}
	fresh := &fakeChannel{}

	r.Connect("sess-1", types.RoleDoctor, old)
	r.Connect("sess-1", types.RoleDoctor, fresh)

	r.Broadcast("sess-1", types.Message{Type: types.MessageTranscription, Content: "hello"})

	if got := old.byType(types.MessageTranscription); len(got) != 0 {
		t.Errorf("superseded channel received %d broadcasts", len(got))
	}
	if got := fresh.byType(types.MessageTranscription); len(got) != 1 {
		t.Errorf("new channel received %d broadcasts, want 1", len(got))
	}
}

func TestRegistry_BroadcastPrunesFailingChannel(t *testing.T) {
	r := NewRegistry()
	healthy := &fakeChannel{}
	dead := &fakeChannel{err: errors.New("connection reset")}

	r.Connect("sess-1", types.RoleDoctor, healthy)
	r.Connect("sess-1", types.RolePatient, dead)

	r.Broadcast("sess-1", types.Message{Type: types.MessageTranscription, Content: "one"})
	r.Broadcast("sess-1", types.Message{Type: types.MessageTranscription, Content: "two"})

	if got := healthy.byType(types.MessageTranscription); len(got) != 2 {
		t.Errorf("healthy channel received %d broadcasts, want 2", len(got))
	}
	if r.Connected("sess-1", types.RolePatient) {
		t.Error("failing channel still registered after broadcast")
	}
}

func TestRegistry_SendToMissingRole(t *testing.T) {
	r := NewRegistry()
	err := r.Send("sess-1", types.RolePatient, types.Message{Content: "x"})
	if !errors.Is(err, ErrNotConnected) {
		t.Errorf("Send = %v, want ErrNotConnected", err)
	}
}

func TestRegistry_SendFailurePrunes(t *testing.T) {
	r := NewRegistry()
	dead := &fakeChannel{err: errors.New("broken pipe")}
	r.Connect("sess-1", types.RoleDoctor, dead)

	if err := r.Send("sess-1", types.RoleDoctor, types.Message{Content: "x"}); err == nil {
		t.Fatal("Send to failing channel returned nil")
	}
	if r.Connected("sess-1", types.RoleDoctor) {
		t.Error("failing channel still registered after send")
	}
	// A second send now reports the disconnect.
	if err := r.Send("sess-1", types.RoleDoctor, types.Message{Content: "y"}); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Send after prune = %v, want ErrNotConnected", err)
	}
}

func TestRegistry_BroadcastScopedToSession(t *testing.T) {
	r := NewRegistry()
	a := &fakeChannel{}
	b := &fakeChannel{}
	r.Connect("sess-a", types.RoleDoctor, a)
	r.Connect("sess-b", types.RoleDoctor, b)

	r.Broadcast("sess-a", types.Message{Type: types.MessageTranscription, Content: "private"})

	if got := b.byType(types.MessageTranscription); len(got) != 0 {
		t.Errorf("other session received %d broadcasts", len(got))
	}
	if got := a.byType(types.MessageTranscription); len(got) != 1 {
		t.Errorf("own session received %d broadcasts, want 1", len(got))
	}
}

func TestRegistry_DropSession(t *testing.T) {
	r := NewRegistry()
	r.Connect("sess-1", types.RoleDoctor, &fakeChannel{})
	r.Connect("sess-1", types.RolePatient, &fakeChannel{})
	r.Connect("sess-2", types.RoleDoctor, &fakeChannel{})

	if n := r.DropSession("sess-1"); n != 2 {
		t.Errorf("DropSession = %d, want 2", n)
	}
	if r.Connected("sess-1", types.RoleDoctor) || r.Connected("sess-1", types.RolePatient) {
		t.Error("sess-1 channels survive DropSession")
	}
	if !r.Connected("sess-2", types.RoleDoctor) {
		t.Error("unrelated session dropped")
	}
	if n := r.DropSession("sess-1"); n != 0 {
		t.Errorf("second DropSession = %d, want 0", n)
	}
}

func TestRegistry_Disconnect(t *testing.T) {
	r := NewRegistry()
	r.Connect("sess-1", types.RoleDoctor, &fakeChannel{})

	r.Disconnect("sess-1", types.RoleDoctor)
	if r.Connected("sess-1", types.RoleDoctor) {
		t.Error("Connected = true after Disconnect")
	}
	// Disconnecting an absent role is a no-op.
	r.Disconnect("sess-1", types.RolePatient)
}
