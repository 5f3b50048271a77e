package ai

import (
	"context"
	"errors"
	"testing"
)

type scriptedProvider struct {
	reply string
	err   error
	last  []Message
	opts  ChatOptions
}

func (p *scriptedProvider) Chat(ctx context.Context, messages []Message, opts ChatOptions) (string, error) {
	_ = ctx
	p.last = append([]Message(nil), messages...)
	p.opts = opts
	return p.reply, p.err
}

func TestModerator_Verdicts(t *testing.T) {
	cases := []struct {
		reply  string
		unsafe bool
	}{
		{"SAFE", false},
		{"UNSAFE", true},
		{"  unsafe \n", true},
		{"I think this is fine", false}, // unclear verdict passes as safe
	}
	for _, tc := range cases {
		prov := &scriptedProvider{reply: tc.reply}
		m := NewModerator(prov)
		unsafe, err := m.Check(context.Background(), "hello there")
		if err != nil {
			t.Fatalf("reply %q: unexpected error: %v", tc.reply, err)
		}
		if unsafe != tc.unsafe {
			t.Fatalf("reply %q: expected unsafe=%v, got %v", tc.reply, tc.unsafe, unsafe)
		}
		if prov.opts.Temperature == nil || *prov.opts.Temperature != 0 {
			t.Fatalf("expected temperature 0 for moderation call")
		}
	}
}

func TestModerator_ProviderFailureIsFatal(t *testing.T) {
	m := NewModerator(&scriptedProvider{err: errors.New("connection refused")})
	if _, err := m.Check(context.Background(), "hello"); err == nil {
		t.Fatalf("expected classifier failure to surface as error")
	}
}

func TestModerator_EmptyTextIsSafe(t *testing.T) {
	prov := &scriptedProvider{reply: "UNSAFE"}
	m := NewModerator(prov)
	unsafe, err := m.Check(context.Background(), "   ")
	if err != nil || unsafe {
		t.Fatalf("blank text should be safe without a provider call, unsafe=%v err=%v", unsafe, err)
	}
	if prov.last != nil {
		t.Fatalf("provider should not be called for blank text")
	}
}
