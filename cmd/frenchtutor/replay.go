package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/ent0n29/frenchtutor/internal/audio"
	"github.com/ent0n29/frenchtutor/internal/protocol"
	"github.com/ent0n29/frenchtutor/internal/session"
)

type replayOptions struct {
	baseURL        string
	userID         string
	userAgent      string
	turns          int
	wordDuration   time.Duration
	interTurnDelay time.Duration
	turnTimeout    time.Duration
	texts          []string
	verbose        bool
}

var defaultReplayUtterances = []string{
	"Bonjour, je m'appelle Paul.",
	"J'habite à Lyon depuis deux ans.",
	"Le week-end, j'aime faire du vélo.",
	"Je voudrais améliorer ma prononciation.",
}

var replayOpts replayOptions

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Replay typed turns against a running server and report latency",
	Long:  "Connects to a running server as a browser engine host, plays scripted student turns and reports how long the tutor takes to answer and to finish speaking.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := replayOpts
		opts.baseURL = strings.TrimRight(strings.TrimSpace(opts.baseURL), "/")
		if opts.baseURL == "" {
			return errors.New("base-url is required")
		}
		if opts.turns <= 0 {
			return errors.New("turns must be > 0")
		}
		if opts.turnTimeout < time.Second {
			opts.turnTimeout = time.Second
		}
		if len(opts.texts) == 0 {
			opts.texts = append([]string(nil), defaultReplayUtterances...)
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), 8*time.Minute)
		defer cancel()
		report, err := replay(ctx, opts, cmd.OutOrStdout())
		if err != nil {
			return err
		}
		report.print(cmd.OutOrStdout())
		return nil
	},
}

func init() {
	f := replayCmd.Flags()
	f.StringVar(&replayOpts.baseURL, "base-url", "http://127.0.0.1:8080", "tutor server base URL")
	f.StringVar(&replayOpts.userID, "user-id", "perf-replay", "user_id used for the synthetic session")
	f.StringVar(&replayOpts.userAgent, "user-agent", "frenchtutor-replay/1.0", "user agent announced in engine_hello")
	f.IntVar(&replayOpts.turns, "turns", 4, "number of turns to replay")
	f.DurationVar(&replayOpts.wordDuration, "word-duration", 20*time.Millisecond, "simulated speaking time per word")
	f.DurationVar(&replayOpts.interTurnDelay, "inter-turn", 200*time.Millisecond, "delay between turns")
	f.DurationVar(&replayOpts.turnTimeout, "turn-timeout", 30*time.Second, "timeout waiting for each reply")
	f.StringSliceVar(&replayOpts.texts, "text", nil, "student utterance (repeatable)")
	f.BoolVar(&replayOpts.verbose, "verbose", true, "print replay progress")
}

type replayEvent struct {
	msgType string
	role    string
	state   string
	code    string
	detail  string
	at      time.Time
}

type turnTiming struct {
	reply  time.Duration
	spoken time.Duration
}

type replayReport struct {
	turns        []turnTiming
	chunks       int
	unlockTones  int
	errorEvents  int
	unlockSample int
}

func (r replayReport) print(out io.Writer) {
	if len(r.turns) == 0 {
		fmt.Fprintln(out, "replay: no turns completed")
		return
	}
	replies := make([]time.Duration, 0, len(r.turns))
	spoken := make([]time.Duration, 0, len(r.turns))
	for _, t := range r.turns {
		replies = append(replies, t.reply)
		spoken = append(spoken, t.spoken)
	}
	fmt.Fprintf(out, "replay: turns=%d chunks=%d unlock_tones=%d errors=%d\n", len(r.turns), r.chunks, r.unlockTones, r.errorEvents)
	fmt.Fprintf(out, "replay: reply  p50=%s p95=%s\n", percentile(replies, 0.50), percentile(replies, 0.95))
	fmt.Fprintf(out, "replay: spoken p50=%s p95=%s\n", percentile(spoken, 0.50), percentile(spoken, 0.95))
}

func percentile(values []time.Duration, p float64) time.Duration {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]time.Duration(nil), values...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	idx := int(p*float64(len(sorted)-1) + 0.5)
	return sorted[idx].Round(time.Millisecond)
}

// engineHost is the fake browser side of the websocket. Writes are serialized
// because the read loop answers engine commands while turns are being sent.
type engineHost struct {
	conn      *websocket.Conn
	sessionID string
	perWord   time.Duration
	done      chan struct{}

	writeMu sync.Mutex

	mu     sync.Mutex
	report replayReport
}

func (h *engineHost) write(msg any) error {
	h.writeMu.Lock()
	defer h.writeMu.Unlock()
	_ = h.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return h.conn.WriteJSON(msg)
}

func (h *engineHost) readLoop(events chan<- replayEvent, readErrCh chan<- error) {
	for {
		_, data, err := h.conn.ReadMessage()
		if err != nil {
			select {
			case readErrCh <- err:
			default:
			}
			return
		}
		var raw map[string]any
		if err := json.Unmarshal(data, &raw); err != nil {
			continue
		}
		str := func(k string) string {
			s, _ := raw[k].(string)
			return s
		}
		ev := replayEvent{
			msgType: str("type"),
			role:    str("role"),
			state:   str("state"),
			code:    str("code"),
			detail:  str("detail"),
			at:      time.Now(),
		}

		switch protocol.MessageType(ev.msgType) {
		case protocol.TypeTTSSpeak:
			if text := str("text"); text != "" {
				h.mu.Lock()
				h.report.chunks++
				h.mu.Unlock()
				go h.play(str("utterance_id"), text)
			}
		case protocol.TypeAudioUnlock:
			wav, err := base64.StdEncoding.DecodeString(str("wav_base64"))
			if err == nil {
				if pcm, _, err := audio.DecodeWAVPCM16(wav); err == nil {
					h.mu.Lock()
					h.report.unlockTones++
					h.report.unlockSample = len(pcm) / 2
					h.mu.Unlock()
				}
			}
		case protocol.TypeErrorEvent:
			h.mu.Lock()
			h.report.errorEvents++
			h.mu.Unlock()
		}
		select {
		case events <- ev:
		case <-h.done:
			return
		}
	}
}

// play acknowledges a chunk the way a browser engine would.
func (h *engineHost) play(utteranceID, text string) {
	send := func(event string) {
		_ = h.write(protocol.TTSEvent{
			Type:        protocol.TypeTTSEvent,
			SessionID:   h.sessionID,
			UtteranceID: utteranceID,
			Event:       event,
		})
	}
	send(protocol.UtteranceStart)
	time.Sleep(time.Duration(len(strings.Fields(text))) * h.perWord)
	send(protocol.UtteranceEnd)
}

func replay(ctx context.Context, opts replayOptions, out io.Writer) (replayReport, error) {
	httpClient := &http.Client{Timeout: 45 * time.Second}
	created, err := createReplaySession(ctx, httpClient, opts)
	if err != nil {
		return replayReport{}, fmt.Errorf("create session: %w", err)
	}
	defer func() {
		_ = endReplaySession(context.Background(), httpClient, opts.baseURL, created.SessionID)
	}()
	if opts.verbose {
		fmt.Fprintf(out, "replay: session=%s turns=%d\n", created.SessionID, opts.turns)
	}

	wsURL, err := wsURLForPath(opts.baseURL, created.WebsocketPath)
	if err != nil {
		return replayReport{}, fmt.Errorf("build ws URL: %w", err)
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return replayReport{}, fmt.Errorf("open websocket: %w", err)
	}
	defer conn.Close()

	host := &engineHost{conn: conn, sessionID: created.SessionID, perWord: opts.wordDuration, done: make(chan struct{})}
	defer close(host.done)
	events := make(chan replayEvent, 256)
	readErrCh := make(chan error, 1)
	go host.readLoop(events, readErrCh)

	if err := host.write(protocol.EngineHello{
		Type:         protocol.TypeEngineHello,
		SessionID:    created.SessionID,
		UserAgent:    opts.userAgent,
		TTSSupported: true,
		STTSupported: false,
		Voices:       []protocol.Voice{{Name: "Replay Amélie", Lang: "fr-FR", URI: "replay:amelie", Default: true}},
	}); err != nil {
		return replayReport{}, fmt.Errorf("send engine_hello: %w", err)
	}

	// The greeting counts as turn zero and is not reported.
	if _, err := awaitTurn(ctx, events, readErrCh, time.Now(), opts.turnTimeout); err != nil {
		return replayReport{}, fmt.Errorf("await greeting: %w", err)
	}

	var timings []turnTiming
	for i := 0; i < opts.turns; i++ {
		text := opts.texts[i%len(opts.texts)]
		if opts.verbose {
			fmt.Fprintf(out, "replay: turn %d/%d text=%q\n", i+1, opts.turns, text)
		}
		sentAt := time.Now()
		if err := host.write(protocol.ClientText{Type: protocol.TypeClientText, SessionID: created.SessionID, Text: text}); err != nil {
			return replayReport{}, fmt.Errorf("turn %d send text: %w", i+1, err)
		}
		timing, err := awaitTurn(ctx, events, readErrCh, sentAt, opts.turnTimeout)
		if err != nil {
			return replayReport{}, fmt.Errorf("turn %d: %w", i+1, err)
		}
		timings = append(timings, timing)
		if opts.interTurnDelay > 0 && i < opts.turns-1 {
			time.Sleep(opts.interTurnDelay)
		}
	}

	host.mu.Lock()
	report := host.report
	host.mu.Unlock()
	report.turns = timings
	return report, nil
}

// awaitTurn waits for the assistant's message and then for the tutor to go
// idle once it has finished speaking.
func awaitTurn(ctx context.Context, events <-chan replayEvent, readErrCh <-chan error, since time.Time, timeout time.Duration) (turnTiming, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var timing turnTiming
	replied := false
	for {
		select {
		case <-ctx.Done():
			return timing, ctx.Err()
		case err := <-readErrCh:
			return timing, fmt.Errorf("ws read: %w", err)
		case <-timer.C:
			return timing, fmt.Errorf("timeout after %s", timeout)
		case ev := <-events:
			switch {
			case ev.msgType == string(protocol.TypeTutorMessage) && ev.role == "assistant":
				replied = true
				timing.reply = ev.at.Sub(since)
			case ev.msgType == string(protocol.TypeTutorState) && ev.state == "idle" && replied:
				timing.spoken = ev.at.Sub(since)
				return timing, nil
			case ev.msgType == string(protocol.TypeErrorEvent) && ev.code != "not_configured":
				return timing, fmt.Errorf("error_event code=%s detail=%s", ev.code, ev.detail)
			}
		}
	}
}

func createReplaySession(ctx context.Context, client *http.Client, opts replayOptions) (session.CreateResponse, error) {
	payload, err := json.Marshal(session.CreateRequest{UserID: opts.userID, Language: "fr-FR"})
	if err != nil {
		return session.CreateResponse{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, opts.baseURL+"/v1/tutor/session", bytes.NewReader(payload))
	if err != nil {
		return session.CreateResponse{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := client.Do(req)
	if err != nil {
		return session.CreateResponse{}, err
	}
	defer res.Body.Close()
	body, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return session.CreateResponse{}, err
	}
	if res.StatusCode != http.StatusCreated {
		return session.CreateResponse{}, fmt.Errorf("HTTP %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}

	var out session.CreateResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return session.CreateResponse{}, err
	}
	if strings.TrimSpace(out.SessionID) == "" || out.WebsocketPath == "" {
		return session.CreateResponse{}, errors.New("missing session_id or ws_path in response")
	}
	return out, nil
}

func endReplaySession(ctx context.Context, client *http.Client, baseURL, sessionID string) error {
	if strings.TrimSpace(sessionID) == "" {
		return nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/v1/tutor/session/"+url.PathEscape(sessionID)+"/end", nil)
	if err != nil {
		return err
	}
	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(res.Body, 1<<20))
	return nil
}

func wsURLForPath(baseURL, path string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return "", err
	}
	switch strings.ToLower(u.Scheme) {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported base-url scheme %q", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return "", errors.New("base-url host is required")
	}
	ref, err := url.Parse(path)
	if err != nil {
		return "", err
	}
	u.Path = strings.TrimRight(u.Path, "/") + ref.Path
	u.RawQuery = ref.RawQuery
	return u.String(), nil
}
