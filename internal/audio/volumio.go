package audio

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"
)

// Commands understood by the player.
const (
	CommandPlay   = "play"
	CommandPause  = "pause"
	CommandStop   = "stop"
	CommandToggle = "toggle"
	CommandNext   = "next"
	CommandPrev   = "prev"
	CommandVolume = "volume"
	CommandMute   = "mute"
	CommandUnmute = "unmute"

	CommandAddToQueue      = "add_to_queue"
	CommandPlayPlaylist    = "play_playlist"
	CommandEnqueuePlaylist = "enqueue_playlist"
)

var commands = []string{
	CommandPlay, CommandPause, CommandStop, CommandToggle,
	CommandNext, CommandPrev, CommandVolume, CommandMute, CommandUnmute,
	CommandAddToQueue, CommandPlayPlaylist, CommandEnqueuePlaylist,
}

// Commands returns the supported command names.
func Commands() []string {
	return slices.Clone(commands)
}

// IsCommand reports whether name is a supported command.
func IsCommand(name string) bool {
	return slices.Contains(commands, name)
}

// Arg is the argument of a command. Volume is read by the volume command,
// URI by add_to_queue and Playlist by the two playlist commands; the other
// commands take none.
type Arg struct {
	Volume   int
	URI      string
	Playlist string
}

// ValidateCommand checks that cmd exists and that arg carries what it needs.
func ValidateCommand(cmd string, arg Arg) error {
	switch {
	case !IsCommand(cmd):
		return fmt.Errorf("%w: %q", ErrUnknownCommand, cmd)
	case cmd == CommandVolume && (arg.Volume < 0 || arg.Volume > 100):
		return fmt.Errorf("%w: %d", ErrInvalidVolume, arg.Volume)
	case cmd == CommandAddToQueue && arg.URI == "":
		return fmt.Errorf("%w: %s needs a uri", ErrMissingArgument, cmd)
	case (cmd == CommandPlayPlaylist || cmd == CommandEnqueuePlaylist) && arg.Playlist == "":
		return fmt.Errorf("%w: %s needs a playlist", ErrMissingArgument, cmd)
	}
	return nil
}

// Default client settings.
const (
	DefaultRequestTimeout = 5 * time.Second
	DefaultRetryAttempts  = 2

	defaultRetryInterval = 200 * time.Millisecond
	breakerFailures      = 3
	breakerOpenTimeout   = 30 * time.Second
	maxResponseBytes     = 1 << 20
)

// State is the player state reported by getState.
type State struct {
	Status   string `json:"status"`
	Title    string `json:"title,omitempty"`
	Artist   string `json:"artist,omitempty"`
	Album    string `json:"album,omitempty"`
	Volume   int    `json:"volume"`
	Mute     bool   `json:"mute"`
	Service  string `json:"service,omitempty"`
	Position int    `json:"position,omitempty"`
}

// Playing formats the current track as "title by artist - album".
func (s State) Playing() string {
	return fmt.Sprintf("%s by %s - %s", s.Title, s.Artist, s.Album)
}

// Player is a controllable media player.
type Player interface {
	// Command sends cmd with its argument.
	Command(ctx context.Context, cmd string, arg Arg) error

	// State fetches the current player state.
	State(ctx context.Context) (State, error)
}

// Endpoint returns the base URL of the player, e.g. "http://volumio.local:3000".
// It is called for every request so that address changes apply at once.
type Endpoint func() (string, error)

// StaticEndpoint always returns base.
func StaticEndpoint(base string) Endpoint {
	return func() (string, error) { return base, nil }
}

// ClientConfig tunes the Volumio client.
type ClientConfig struct {
	RequestTimeout time.Duration
	RetryAttempts  int

	// OnStateChange is called when the circuit breaker changes state.
	OnStateChange func(from, to string)
}

// Volumio is a Player backed by the Volumio REST API.
//
// Safe for concurrent use.
type Volumio struct {
	endpoint      Endpoint
	http          *http.Client
	breaker       *gobreaker.CircuitBreaker
	retries       int
	retryInterval time.Duration
}

// NewVolumio creates a Volumio client.
func NewVolumio(endpoint Endpoint, cfg ClientConfig) *Volumio {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	if cfg.RetryAttempts < 0 {
		cfg.RetryAttempts = 0
	}

	settings := gobreaker.Settings{
		Name:        "volumio",
		MaxRequests: 1,
		Timeout:     breakerOpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= breakerFailures
		},
		IsSuccessful: func(err error) bool {
			// The player answered; it is reachable.
			return err == nil || errors.Is(err, ErrRequestFailed)
		},
	}
	if cfg.OnStateChange != nil {
		settings.OnStateChange = func(_ string, from, to gobreaker.State) {
			cfg.OnStateChange(from.String(), to.String())
		}
	}

	return &Volumio{
		endpoint:      endpoint,
		http:          &http.Client{Timeout: cfg.RequestTimeout},
		breaker:       gobreaker.NewCircuitBreaker(settings),
		retries:       cfg.RetryAttempts,
		retryInterval: defaultRetryInterval,
	}
}

// Available reports whether the circuit breaker lets requests through.
func (v *Volumio) Available() bool {
	return v.breaker.State() != gobreaker.StateOpen
}

// commandResponse is the body Volumio answers commands with.
type commandResponse struct {
	Response string `json:"response"`
	Error    string `json:"error"`
}

// queueItem is the body of POST /api/v1/addToQueue.
type queueItem struct {
	URI     string `json:"uri"`
	Service string `json:"service,omitempty"`
}

// playlistURI is the browse URI Volumio gives a stored playlist.
func playlistURI(name string) string {
	return "playlists/" + name
}

// Command implements Player. Transport commands and play_playlist go
// through /api/v1/commands; the queue commands POST to /api/v1/addToQueue.
func (v *Volumio) Command(ctx context.Context, cmd string, arg Arg) error {
	if err := ValidateCommand(cmd, arg); err != nil {
		return err
	}

	var resp commandResponse
	var err error
	switch cmd {
	case CommandAddToQueue:
		err = v.call(ctx, http.MethodPost, "/api/v1/addToQueue", nil, queueItem{URI: arg.URI}, &resp)
	case CommandEnqueuePlaylist:
		item := queueItem{URI: playlistURI(arg.Playlist), Service: "mpd"}
		err = v.call(ctx, http.MethodPost, "/api/v1/addToQueue", nil, item, &resp)
	case CommandPlayPlaylist:
		query := url.Values{"cmd": {"playplaylist"}, "name": {arg.Playlist}}
		err = v.call(ctx, http.MethodGet, "/api/v1/commands/", query, nil, &resp)
	case CommandVolume:
		query := url.Values{"cmd": {cmd}, "volume": {strconv.Itoa(arg.Volume)}}
		err = v.call(ctx, http.MethodGet, "/api/v1/commands/", query, nil, &resp)
	default:
		err = v.call(ctx, http.MethodGet, "/api/v1/commands/", url.Values{"cmd": {cmd}}, nil, &resp)
	}
	if err != nil {
		return fmt.Errorf("sending %s: %w", cmd, err)
	}
	if resp.Error != "" {
		return fmt.Errorf("sending %s: %w: %s", cmd, ErrRequestFailed, resp.Error)
	}
	return nil
}

// State implements Player.
func (v *Volumio) State(ctx context.Context) (State, error) {
	var s State
	if err := v.call(ctx, http.MethodGet, "/api/v1/getState", nil, nil, &s); err != nil {
		return State{}, fmt.Errorf("fetching state: %w", err)
	}
	return s, nil
}

// call performs a request through the breaker. GETs are retried on
// transient failures; a POST is sent once since it appends to the queue.
// in, when not nil, is sent as a JSON body.
func (v *Volumio) call(ctx context.Context, method, path string, query url.Values, in, out any) error {
	var body []byte
	if in != nil {
		var err error
		if body, err = json.Marshal(in); err != nil {
			return fmt.Errorf("%w: encoding request: %w", ErrRequestFailed, err)
		}
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = v.retryInterval
	policy.MaxInterval = 2 * time.Second
	retries := uint64(v.retries) //nolint:gosec // clamped to >= 0 in NewVolumio
	if method != http.MethodGet {
		retries = 0
	}

	return backoff.Retry(func() error {
		_, err := v.breaker.Execute(func() (interface{}, error) {
			return nil, v.do(ctx, method, path, query, body, out)
		})
		switch {
		case err == nil:
			return nil
		case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
			return backoff.Permanent(fmt.Errorf("%w: %w", ErrPlayerUnavailable, err))
		case errors.Is(err, ErrRequestFailed), ctx.Err() != nil:
			return backoff.Permanent(err)
		default:
			return err
		}
	}, backoff.WithContext(backoff.WithMaxRetries(policy, retries), ctx))
}

func (v *Volumio) do(ctx context.Context, method, path string, query url.Values, body []byte, out any) error {
	base, err := v.endpoint()
	if err != nil {
		return fmt.Errorf("resolving player address: %w", err)
	}
	u, err := url.Parse(base)
	if err != nil {
		return fmt.Errorf("%w: invalid player address %q: %w", ErrRequestFailed, base, err)
	}
	u = u.JoinPath(path)
	u.RawQuery = query.Encode()

	var reqBody io.Reader = http.NoBody
	if body != nil {
		reqBody = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), reqBody)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrRequestFailed, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := v.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	switch {
	case resp.StatusCode >= http.StatusInternalServerError:
		return fmt.Errorf("player returned HTTP %d", resp.StatusCode)
	case resp.StatusCode >= http.StatusBadRequest:
		return fmt.Errorf("%w: HTTP %d", ErrRequestFailed, resp.StatusCode)
	}

	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: decoding response: %w", ErrRequestFailed, err)
	}
	return nil
}
