package peer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/1ureka/postbridge/internal/channel"
	"github.com/1ureka/postbridge/internal/pending"
	"github.com/1ureka/postbridge/internal/protocol"
)

// ---------------------------------------------------------------------------
// Test helpers
// ---------------------------------------------------------------------------

// recorder is a Target that keeps every post instead of delivering it.
type recorder struct {
	mu    sync.Mutex
	posts []post
	err   error
}

type post struct {
	message      string
	targetOrigin string
}

func (r *recorder) PostMessage(message, targetOrigin string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.posts = append(r.posts, post{message, targetOrigin})
	return nil
}

func (r *recorder) snapshot() []post {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]post(nil), r.posts...)
}

// waitPosts waits until at least n posts were recorded and decodes them.
func (r *recorder) waitPosts(t *testing.T, n int) []*protocol.Envelope {
	t.Helper()
	require.Eventually(t, func() bool { return len(r.snapshot()) >= n },
		2*time.Second, 5*time.Millisecond, "expected %d posts", n)

	var envs []*protocol.Envelope
	for _, p := range r.snapshot() {
		env, err := protocol.Decode(p.message)
		require.NoError(t, err)
		envs = append(envs, env)
	}
	return envs
}

func newWindow(t *testing.T, origin string, opts ...channel.Option) *channel.Window {
	t.Helper()
	w := channel.NewWindow(origin, opts...)
	t.Cleanup(w.Close)
	return w
}

func newPeer(t *testing.T, cfg Config) *Peer {
	t.Helper()
	p, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(p.Destroy)
	return p
}

// pair builds two peers in separate windows, each targeting the other.
func pair(t *testing.T, handlerB Handler, opts ...channel.Option) (a, b *Peer) {
	t.Helper()
	wa := newWindow(t, "https://a.example", opts...)
	wb := newWindow(t, "https://b.example", opts...)

	a = newPeer(t, Config{Sender: "peer-a", Bus: wa, Target: wa.PortTo(wb)})
	b = newPeer(t, Config{Sender: "peer-b", Bus: wb, Target: wb.PortTo(wa), Handler: handlerB})
	return a, b
}

func wait(t *testing.T, f *pending.Future) json.RawMessage {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	data, err := f.Wait(ctx)
	require.NoError(t, err)
	return data
}

func encode(t *testing.T, env *protocol.Envelope) string {
	t.Helper()
	wire, err := protocol.Encode(env)
	require.NoError(t, err)
	return wire
}

// ---------------------------------------------------------------------------
// Construction
// ---------------------------------------------------------------------------

func TestNewRejectsInvalidConfig(t *testing.T) {
	w := newWindow(t, "a")

	_, err := New(Config{Sender: "   ", Bus: w})
	assert.ErrorIs(t, err, ErrInvalidSender)

	_, err = New(Config{Sender: "a"})
	assert.ErrorIs(t, err, ErrNoBus)
}

func TestNewDefaults(t *testing.T) {
	w := newWindow(t, "a")
	before := time.Now().UnixMilli()

	p := newPeer(t, Config{Bus: w})

	assert.NotEmpty(t, p.Sender())
	var ms int64
	_, err := fmt.Sscan(p.Sender(), &ms)
	require.NoError(t, err, "default sender should be a timestamp")
	assert.GreaterOrEqual(t, ms, before)

	assert.Equal(t, channel.AnyOrigin, p.targetOrigin)
	assert.Nil(t, p.Target())
	assert.Equal(t, StateListening, p.State())
	assert.Equal(t, 1, w.Len())
}

func TestSendWithoutTargetRejects(t *testing.T) {
	w := newWindow(t, "a")
	p := newPeer(t, Config{Sender: "a", Bus: w})

	_, err := p.SendRequest("x").Result()
	assert.ErrorIs(t, err, ErrNoTarget)
	assert.Equal(t, 0, p.Pending())
}

// ---------------------------------------------------------------------------
// Round trips
// ---------------------------------------------------------------------------

// TestPingPong: A sends {type:"ping"}; B answers {type:"pong"}.
func TestPingPong(t *testing.T) {
	a, _ := pair(t, func(ctx context.Context, data json.RawMessage, ev channel.Event) (any, error) {
		var msg struct{ Type string }
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, err
		}
		if msg.Type == "ping" {
			return map[string]string{"type": "pong"}, nil
		}
		return nil, fmt.Errorf("unknown type %q", msg.Type)
	})

	got := wait(t, a.SendRequest(map[string]string{"type": "ping"}))
	assert.JSONEq(t, `{"type":"pong"}`, string(got))
	assert.Equal(t, 0, a.Pending())
}

func TestRoundTripPreservesResponseData(t *testing.T) {
	payloads := []string{
		`{"nested":{"list":[1,2,3],"ok":true}}`,
		`"plain string"`,
		`12.5`,
		`false`,
		`[]`,
	}

	a, _ := pair(t, func(ctx context.Context, data json.RawMessage, ev channel.Event) (any, error) {
		return data, nil
	})

	for _, want := range payloads {
		got := wait(t, a.SendRequest(json.RawMessage(want)))
		assert.JSONEq(t, want, string(got))
	}
}

func TestCallDecodesReply(t *testing.T) {
	a, _ := pair(t, func(ctx context.Context, data json.RawMessage, ev channel.Event) (any, error) {
		return map[string]int{"n": 42}, nil
	})

	var out struct{ N int }
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, a.Call(ctx, "q", &out))
	assert.Equal(t, 42, out.N)
	require.NoError(t, a.Call(ctx, "q", nil))
}

// TestBothSidesRequest verifies a peer is requester and responder at once.
func TestBothSidesRequest(t *testing.T) {
	wa := newWindow(t, "https://a.example")
	wb := newWindow(t, "https://b.example")

	echo := func(name string) Handler {
		return func(ctx context.Context, data json.RawMessage, ev channel.Event) (any, error) {
			var s string
			_ = json.Unmarshal(data, &s)
			return name + ":" + s, nil
		}
	}
	a := newPeer(t, Config{Sender: "a", Bus: wa, Target: wa.PortTo(wb), Handler: echo("a")})
	b := newPeer(t, Config{Sender: "b", Bus: wb, Target: wb.PortTo(wa), Handler: echo("b")})

	assert.JSONEq(t, `"b:hi"`, string(wait(t, a.SendRequest("hi"))))
	assert.JSONEq(t, `"a:yo"`, string(wait(t, b.SendRequest("yo"))))
}

// TestOverlappingRequestsOverJitter fires many concurrent requests over a
// reordering channel; each must resolve with its own answer.
func TestOverlappingRequestsOverJitter(t *testing.T) {
	a, _ := pair(t, func(ctx context.Context, data json.RawMessage, ev channel.Event) (any, error) {
		var n int
		if err := json.Unmarshal(data, &n); err != nil {
			return nil, err
		}
		return n * 2, nil
	}, channel.WithJitter(15*time.Millisecond))

	var g errgroup.Group
	for i := 1; i <= 50; i++ {
		i := i
		g.Go(func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			var got int
			if err := a.SendRequest(i).Decode(ctx, &got); err != nil {
				return err
			}
			if got != i*2 {
				return fmt.Errorf("request %d resolved with %d", i, got)
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
	assert.Equal(t, 0, a.Pending())
}

// ---------------------------------------------------------------------------
// Requester side
// ---------------------------------------------------------------------------

func TestInvalidDataRejectsSynchronously(t *testing.T) {
	w := newWindow(t, "a")
	rec := &recorder{}
	p := newPeer(t, Config{Sender: "a", Bus: w, Target: rec})

	falsy := []any{
		nil, json.RawMessage(`null`), map[string]any(nil),
		false, 0, 0.0, "", json.RawMessage(`false`), json.RawMessage(` 0 `), json.RawMessage(`""`),
	}
	for _, data := range falsy {
		f := p.SendRequest(data)
		_, err := f.Result()
		assert.ErrorIs(t, err, ErrInvalidData)
		assert.EqualError(t, err, "data is invalid")
	}

	_, err := p.SendRequest(make(chan int)).Result()
	assert.ErrorIs(t, err, ErrInvalidData)

	assert.Empty(t, rec.snapshot(), "nothing may be transmitted")
	assert.Equal(t, 0, p.Pending())

	// Values that merely look empty are still sent.
	for _, data := range []any{true, 1, "0", " ", []int{}, map[string]any{}} {
		_, err := p.SendRequest(data).Result()
		assert.ErrorIs(t, err, pending.ErrPending, "%v", data)
	}
	assert.Len(t, rec.snapshot(), 6)
}

func TestMessageIDsStrictlyIncrease(t *testing.T) {
	w := newWindow(t, "a")
	rec := &recorder{}
	p := newPeer(t, Config{Sender: "a", Bus: w, Target: rec, TargetOrigin: "https://b.example"})

	for i := 1; i <= 20; i++ {
		f := p.SendRequest(i)
		assert.Equal(t, uint64(i), f.ID())
	}

	envs := rec.waitPosts(t, 20)
	var prev uint64
	for _, env := range envs {
		assert.Equal(t, "a", env.Sender)
		assert.Greater(t, env.MessageID, prev)
		assert.False(t, env.IsReply())
		prev = env.MessageID
	}
	for _, pp := range rec.snapshot() {
		assert.Equal(t, "https://b.example", pp.targetOrigin)
	}
}

// TestRepliesInReverseOrder: requests 1 and 2 are answered 2 then 1.
func TestRepliesInReverseOrder(t *testing.T) {
	w := newWindow(t, "https://a.example")
	rec := &recorder{}
	p := newPeer(t, Config{Sender: "a", Bus: w, Target: rec})

	f1 := p.SendRequest("first")
	f2 := p.SendRequest("second")
	envs := rec.waitPosts(t, 2)

	require.NoError(t, w.Inject(channel.Event{
		Origin: "https://b.example",
		Data:   encode(t, envs[1].WithResponse(json.RawMessage(`"two"`))),
	}))
	assert.JSONEq(t, `"two"`, string(wait(t, f2)))

	_, err := f1.Result()
	assert.ErrorIs(t, err, pending.ErrPending)

	require.NoError(t, w.Inject(channel.Event{
		Origin: "https://b.example",
		Data:   encode(t, envs[0].WithResponse(json.RawMessage(`"one"`))),
	}))
	assert.JSONEq(t, `"one"`, string(wait(t, f1)))
}

// TestUnknownAndDuplicateRepliesAreNoOps checks at-most-once resolution.
func TestUnknownAndDuplicateRepliesAreNoOps(t *testing.T) {
	w := newWindow(t, "a")
	rec := &recorder{}
	p := newPeer(t, Config{Sender: "a", Bus: w, Target: rec})

	f := p.SendRequest("x")
	req := rec.waitPosts(t, 1)[0]

	inject := func(env *protocol.Envelope) {
		require.NoError(t, w.Inject(channel.Event{Origin: "b", Data: encode(t, env)}))
	}

	// A reply for an id that never existed.
	inject(&protocol.Envelope{
		Sender:    "a",
		MessageID: 99,
		Request:   &protocol.Body{Data: json.RawMessage(`1`)},
		Response:  &protocol.Body{Data: json.RawMessage(`"ghost"`)},
	})

	inject(req.WithResponse(json.RawMessage(`"real"`)))
	inject(req.WithResponse(json.RawMessage(`"duplicate"`)))

	assert.JSONEq(t, `"real"`, string(wait(t, f)))

	// Give the duplicate time to be processed; the result must not change.
	time.Sleep(20 * time.Millisecond)
	data, err := f.Result()
	require.NoError(t, err)
	assert.JSONEq(t, `"real"`, string(data))
}

func TestMalformedInputIsDropped(t *testing.T) {
	w := newWindow(t, "a")
	rec := &recorder{}
	var calls atomic.Int32
	p := newPeer(t, Config{
		Sender: "a",
		Bus:    w,
		Target: rec,
		Handler: func(ctx context.Context, data json.RawMessage, ev channel.Event) (any, error) {
			calls.Add(1)
			return "ok", nil
		},
	})

	f := p.SendRequest("x")

	garbage := []string{
		"",
		"not json",
		`{"sender":"b"}`,
		`{"sender":"b","messageId":1}`,
		`{"messageId":1,"request":{}}`,
		`{"sender":"b","messageId":0,"request":{}}`,
		`{"sender":"a","messageId":1,"request":{},"response":null}`,
	}
	for _, g := range garbage {
		require.NoError(t, w.Inject(channel.Event{Origin: "b", Data: g, Source: rec}))
	}

	time.Sleep(30 * time.Millisecond)
	_, err := f.Result()
	assert.ErrorIs(t, err, pending.ErrPending)
	assert.Equal(t, int32(0), calls.Load())
	assert.Len(t, rec.snapshot(), 1, "only the original request was posted")
}

func TestSelfSenderRequestIsDropped(t *testing.T) {
	w := newWindow(t, "a")
	rec := &recorder{}
	var calls atomic.Int32
	p := newPeer(t, Config{
		Sender: "a",
		Bus:    w,
		Target: rec,
		Handler: func(ctx context.Context, data json.RawMessage, ev channel.Event) (any, error) {
			calls.Add(1)
			return "ok", nil
		},
	})

	// Even with a matching pending entry, a self-sent envelope without a
	// response is not a request to answer.
	p.SendRequest("x")
	req := rec.waitPosts(t, 1)[0]
	require.NoError(t, w.Inject(channel.Event{Origin: "a", Data: encode(t, req), Source: rec}))

	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, int32(0), calls.Load())
	assert.Equal(t, 1, p.Pending())
}

func TestPostFailureRejects(t *testing.T) {
	w := newWindow(t, "a")
	boom := errors.New("boom")
	p := newPeer(t, Config{Sender: "a", Bus: w, Target: &recorder{err: boom}})

	_, err := p.SendRequest("x").Result()
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, p.Pending())
}

func TestRequestTimeout(t *testing.T) {
	w := newWindow(t, "a")
	rec := &recorder{}
	p := newPeer(t, Config{Sender: "a", Bus: w, Target: rec, RequestTimeout: 20 * time.Millisecond})

	f := p.SendRequest("x")
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := f.Wait(ctx)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Equal(t, 0, p.Pending())

	// A late reply finds nothing.
	req := rec.waitPosts(t, 1)[0]
	require.NoError(t, w.Inject(channel.Event{Origin: "b", Data: encode(t, req.WithResponse(json.RawMessage(`1`)))}))
	time.Sleep(20 * time.Millisecond)
	_, err = f.Result()
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestReplyBeforeTimeoutWins(t *testing.T) {
	w := newWindow(t, "a")
	rec := &recorder{}
	p := newPeer(t, Config{Sender: "a", Bus: w, Target: rec, RequestTimeout: 40 * time.Millisecond})

	f := p.SendRequest("x")
	req := rec.waitPosts(t, 1)[0]
	require.NoError(t, w.Inject(channel.Event{Origin: "b", Data: encode(t, req.WithResponse(json.RawMessage(`"ok"`)))}))
	assert.JSONEq(t, `"ok"`, string(wait(t, f)))

	time.Sleep(80 * time.Millisecond)
	data, err := f.Result()
	require.NoError(t, err)
	assert.JSONEq(t, `"ok"`, string(data))
}

func TestCancel(t *testing.T) {
	w := newWindow(t, "a")
	p := newPeer(t, Config{Sender: "a", Bus: w, Target: &recorder{}})

	f := p.SendRequest("x")
	assert.True(t, p.Cancel(f.ID()))
	assert.False(t, p.Cancel(f.ID()))

	_, err := f.Result()
	assert.ErrorIs(t, err, ErrCanceled)
}

func TestSetTargetRebinds(t *testing.T) {
	w := newWindow(t, "a")
	first, second := &recorder{}, &recorder{}
	p := newPeer(t, Config{Sender: "a", Bus: w, Target: first})

	p.SendRequest(1)
	p.SetTarget(nil)
	p.SendRequest(2)
	p.SetTarget(second)
	p.SendRequest(3)

	assert.Len(t, first.snapshot(), 2)
	assert.Len(t, second.snapshot(), 1)
	assert.Same(t, second, p.Target())
}

// ---------------------------------------------------------------------------
// Responder side
// ---------------------------------------------------------------------------

func TestHandlerReplyGoesToEventSource(t *testing.T) {
	w := newWindow(t, "https://b.example")
	ownTarget, source := &recorder{}, &recorder{}

	type seen struct {
		data json.RawMessage
		ev   channel.Event
	}
	got := make(chan seen, 1)
	newPeer(t, Config{
		Sender: "b",
		Bus:    w,
		Target: ownTarget,
		Handler: func(ctx context.Context, data json.RawMessage, ev channel.Event) (any, error) {
			got <- seen{data, ev}
			return map[string]bool{"success": true}, nil
		},
	})

	req := &protocol.Envelope{
		Sender:    "a",
		MessageID: 5,
		Request:   &protocol.Body{Data: json.RawMessage(`{"type":"auth-details"}`)},
	}
	require.NoError(t, w.Inject(channel.Event{
		Origin: "https://a.example",
		Data:   encode(t, req),
		Source: source,
	}))

	s := <-got
	assert.JSONEq(t, `{"type":"auth-details"}`, string(s.data))
	assert.Equal(t, "https://a.example", s.ev.Origin)

	replies := source.waitPosts(t, 1)
	time.Sleep(20 * time.Millisecond)
	require.Len(t, source.snapshot(), 1, "exactly one reply")
	assert.Equal(t, "https://a.example", source.snapshot()[0].targetOrigin)

	reply := replies[0]
	assert.Equal(t, "a", reply.Sender)
	assert.Equal(t, uint64(5), reply.MessageID)
	assert.JSONEq(t, `{"type":"auth-details"}`, string(reply.Request.Data))
	require.True(t, reply.IsReply())
	assert.JSONEq(t, `{"success":true}`, string(reply.Response.Data))

	assert.Empty(t, ownTarget.snapshot(), "replies never go to the bound target")
}

func TestHandlerFailuresAreStillReplies(t *testing.T) {
	testCases := []struct {
		name    string
		handler Handler
		want    string
	}{
		{
			name: "plain error",
			handler: func(context.Context, json.RawMessage, channel.Event) (any, error) {
				return nil, errors.New("denied")
			},
			want: `"denied"`,
		},
		{
			name: "rejection value",
			handler: func(context.Context, json.RawMessage, channel.Event) (any, error) {
				return nil, Reject(map[string]any{"type": "error", "message": "nope"})
			},
			want: `{"type":"error","message":"nope"}`,
		},
		{
			name: "wrapped rejection",
			handler: func(context.Context, json.RawMessage, channel.Event) (any, error) {
				return nil, fmt.Errorf("ctx: %w", Reject(7))
			},
			want: `7`,
		},
		{
			name: "panic",
			handler: func(context.Context, json.RawMessage, channel.Event) (any, error) {
				panic("kaboom")
			},
			want: `"handler panic: kaboom"`,
		},
		{
			name: "unmarshalable value",
			handler: func(context.Context, json.RawMessage, channel.Event) (any, error) {
				return make(chan int), nil
			},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			a, _ := pair(t, tc.handler)
			got := wait(t, a.SendRequest("x"))
			if tc.want == "" {
				var s string
				require.NoError(t, json.Unmarshal(got, &s))
				assert.Contains(t, s, "marshal payload")
				return
			}
			assert.JSONEq(t, tc.want, string(got))
		})
	}
}

func TestReplyKeepsUnknownRequestFields(t *testing.T) {
	w := newWindow(t, "https://b.example")
	source := &recorder{}
	newPeer(t, Config{
		Sender: "b",
		Bus:    w,
		Handler: func(context.Context, json.RawMessage, channel.Event) (any, error) {
			return nil, nil
		},
	})

	raw := `{"sender":"a","messageId":4,"request":{"data":"x"},"trace":"t-9"}`
	require.NoError(t, w.Inject(channel.Event{Origin: "https://a.example", Data: raw, Source: source}))

	require.Eventually(t, func() bool { return len(source.snapshot()) == 1 },
		2*time.Second, 5*time.Millisecond)
	assert.JSONEq(t,
		`{"sender":"a","messageId":4,"request":{"data":"x"},"trace":"t-9","response":{"data":null}}`,
		source.snapshot()[0].message)
}

func TestNilHandlerResultResolvesEmpty(t *testing.T) {
	a, _ := pair(t, func(context.Context, json.RawMessage, channel.Event) (any, error) {
		return nil, nil
	})
	assert.Nil(t, wait(t, a.SendRequest("x")))
}

// TestSlowHandlerDoesNotBlockReplies: while B's handler is suspended, A's
// own replies keep flowing through the same window.
func TestSlowHandlerDoesNotBlockReplies(t *testing.T) {
	wa := newWindow(t, "https://a.example")
	wb := newWindow(t, "https://b.example")

	release := make(chan struct{})
	a := newPeer(t, Config{
		Sender: "a",
		Bus:    wa,
		Target: wa.PortTo(wb),
		Handler: func(ctx context.Context, data json.RawMessage, ev channel.Event) (any, error) {
			<-release
			return "slow", nil
		},
	})
	b := newPeer(t, Config{
		Sender: "b",
		Bus:    wb,
		Target: wb.PortTo(wa),
		Handler: func(ctx context.Context, data json.RawMessage, ev channel.Event) (any, error) {
			return "fast", nil
		},
	})

	slow := b.SendRequest("block a")
	assert.JSONEq(t, `"fast"`, string(wait(t, a.SendRequest("q"))))

	close(release)
	assert.JSONEq(t, `"slow"`, string(wait(t, slow)))
}

func TestValidatorFiltersEvents(t *testing.T) {
	w := newWindow(t, "https://b.example")
	source := &recorder{}
	var calls atomic.Int32

	newPeer(t, Config{
		Sender: "b",
		Bus:    w,
		EventValidator: func(ev channel.Event) bool {
			return ev.Origin == "https://trusted.example"
		},
		Handler: func(context.Context, json.RawMessage, channel.Event) (any, error) {
			calls.Add(1)
			return "ok", nil
		},
	})

	req := encode(t, &protocol.Envelope{Sender: "a", MessageID: 1, Request: &protocol.Body{Data: json.RawMessage(`1`)}})
	require.NoError(t, w.Inject(channel.Event{Origin: "https://evil.example", Data: req, Source: source}))
	require.NoError(t, w.Inject(channel.Event{Origin: "https://trusted.example", Data: req, Source: source}))

	source.waitPosts(t, 1)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, "https://trusted.example", source.snapshot()[0].targetOrigin)
}

func TestNoHandlerDropsRequests(t *testing.T) {
	w := newWindow(t, "b")
	source := &recorder{}
	newPeer(t, Config{Sender: "b", Bus: w})

	req := encode(t, &protocol.Envelope{Sender: "a", MessageID: 1, Request: &protocol.Body{Data: json.RawMessage(`1`)}})
	require.NoError(t, w.Inject(channel.Event{Origin: "a", Data: req, Source: source}))

	time.Sleep(30 * time.Millisecond)
	assert.Empty(t, source.snapshot())
}

// ---------------------------------------------------------------------------
// Lifecycle
// ---------------------------------------------------------------------------

func TestDestroyStopsDispatch(t *testing.T) {
	w := newWindow(t, "a")
	rec := &recorder{}
	var calls atomic.Int32
	p := newPeer(t, Config{
		Sender: "a",
		Bus:    w,
		Target: rec,
		Handler: func(context.Context, json.RawMessage, channel.Event) (any, error) {
			calls.Add(1)
			return "ok", nil
		},
	})

	before := p.SendRequest("before")
	p.Destroy()
	p.Destroy()

	assert.Equal(t, StateDestroyed, p.State())
	assert.Equal(t, 0, w.Len(), "listener removed")

	// Still sends, but can never resolve here.
	after := p.SendRequest("after")
	envs := rec.waitPosts(t, 2)

	for _, env := range envs {
		require.NoError(t, w.Inject(channel.Event{Origin: "b", Data: encode(t, env.WithResponse(json.RawMessage(`1`)))}))
	}
	foreign := encode(t, &protocol.Envelope{Sender: "b", MessageID: 1, Request: &protocol.Body{Data: json.RawMessage(`1`)}})
	require.NoError(t, w.Inject(channel.Event{Origin: "b", Data: foreign, Source: rec}))

	time.Sleep(30 * time.Millisecond)
	for _, f := range []*pending.Future{before, after} {
		_, err := f.Result()
		assert.ErrorIs(t, err, pending.ErrPending)
	}
	assert.Equal(t, int32(0), calls.Load())
	assert.Equal(t, 2, p.Pending(), "teardown does not reject pending requests")
}

func TestDestroyCancelsHandlerContext(t *testing.T) {
	wa := newWindow(t, "a")
	wb := newWindow(t, "b")

	started := make(chan struct{})
	b := newPeer(t, Config{
		Sender: "b",
		Bus:    wb,
		Handler: func(ctx context.Context, data json.RawMessage, ev channel.Event) (any, error) {
			close(started)
			<-ctx.Done()
			return nil, ctx.Err()
		},
	})
	a := newPeer(t, Config{Sender: "a", Bus: wa, Target: wa.PortTo(wb)})

	f := a.SendRequest("x")
	<-started
	b.Destroy()

	assert.JSONEq(t, `"context canceled"`, string(wait(t, f)))
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "unattached", StateUnattached.String())
	assert.Equal(t, "listening", StateListening.String())
	assert.Equal(t, "destroyed", StateDestroyed.String())
	assert.Equal(t, "state(9)", State(9).String())
}
