package images

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"
)

const (
	// PrimaryTimeout bounds probes made on behalf of a displayed image.
	PrimaryTimeout = 10 * time.Second
	// SecondaryTimeout bounds probes made by background callers.
	SecondaryTimeout = 5 * time.Second
)

type State int

const (
	Idle State = iota
	CheckingRemote
	Loaded
	Errored
)

func (s State) String() string {
	switch s {
	case CheckingRemote:
		return "checking_remote"
	case Loaded:
		return "loaded"
	case Errored:
		return "errored"
	default:
		return "idle"
	}
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *State) UnmarshalText(text []byte) error {
	for _, st := range []State{Idle, CheckingRemote, Loaded, Errored} {
		if st.String() == string(text) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown image state %q", text)
}

// Prober checks that an image URL can be fetched.
type Prober interface {
	Probe(ctx context.Context, url string) error
}

type HTTPProber struct {
	Client *http.Client
}

func (p HTTPProber) Probe(ctx context.Context, url string) error {
	client := p.Client
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("probe %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("probe %s: status %d", url, resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "" && !strings.HasPrefix(ct, "image/") {
		return fmt.Errorf("probe %s: unexpected content type %q", url, ct)
	}
	return nil
}

// Dedup collapses concurrent probes of the same image into one request,
// ignoring cache-busting tokens.
func Dedup(p Prober) Prober {
	return &dedupProber{next: p}
}

type dedupProber struct {
	next  Prober
	group singleflight.Group
}

func (d *dedupProber) Probe(ctx context.Context, url string) error {
	_, err, _ := d.group.Do(StripCacheBust(url), func() (interface{}, error) {
		return nil, d.next.Probe(ctx, url)
	})
	return err
}

var tokenSeq atomic.Uint64

// NewToken returns a fresh cache-busting token.
func NewToken() string {
	return strconv.FormatInt(time.Now().UnixMilli(), 10) + "-" + strconv.FormatUint(tokenSeq.Add(1), 10)
}

type Input struct {
	URL              *string
	Title            string
	InitiallyLoading bool
	ForceRefresh     bool
}

type View struct {
	DisplayURL string `json:"displayUrl"`
	IsLoading  bool   `json:"isLoading"`
	HasError   bool   `json:"hasError"`
	HasLoaded  bool   `json:"hasLoaded"`
	State      State  `json:"state"`
	Attempts   int    `json:"attempts"`
}

// Loader tracks one image reference. Probes run in the background; Resolve
// and Retry never block on the network.
type Loader struct {
	prober  Prober
	timeout time.Duration

	mu               sync.Mutex
	state            State
	url              string
	title            string
	initiallyLoading bool
	token            string
	hasLoaded        bool
	attempts         int
	gen              int
	probing          bool
	done             chan struct{}
}

func NewLoader(prober Prober, timeout time.Duration) *Loader {
	if timeout <= 0 {
		timeout = PrimaryTimeout
	}
	return &Loader{prober: prober, timeout: timeout}
}

func (l *Loader) Resolve(in Input) View {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.title = in.Title
	l.initiallyLoading = in.InitiallyLoading

	if in.URL == nil || *in.URL == "" {
		l.gen++
		l.probing = false
		l.url = ""
		l.state = Errored
		return l.viewLocked()
	}

	u := StripCacheBust(*in.URL)
	if IsLocalAsset(u) {
		l.gen++
		l.probing = false
		l.url = u
		l.state = Loaded
		l.hasLoaded = true
		return l.viewLocked()
	}

	if u == l.url && l.state != Idle {
		// A pending probe absorbs repeated refreshes.
		if l.probing || !in.ForceRefresh {
			return l.viewLocked()
		}
	}

	l.url = u
	l.startProbeLocked()
	return l.viewLocked()
}

// Retry re-checks a remote image that failed to load. It is a no-op in any
// other state.
func (l *Loader) Retry() View {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state != Errored || l.url == "" || IsLocalAsset(l.url) {
		return l.viewLocked()
	}
	l.attempts++
	l.startProbeLocked()
	return l.viewLocked()
}

func (l *Loader) View() View {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.viewLocked()
}

// Wait blocks until no probe is in flight or ctx is done, then returns the
// current view.
func (l *Loader) Wait(ctx context.Context) (View, error) {
	for {
		l.mu.Lock()
		if !l.probing {
			v := l.viewLocked()
			l.mu.Unlock()
			return v, nil
		}
		done := l.done
		l.mu.Unlock()

		select {
		case <-done:
		case <-ctx.Done():
			return l.View(), ctx.Err()
		}
	}
}

func (l *Loader) startProbeLocked() {
	l.gen++
	l.state = CheckingRemote
	l.token = NewToken()
	l.probing = true
	l.done = make(chan struct{})

	go l.probe(l.gen, CacheBust(l.url, l.token), l.done)
}

func (l *Loader) probe(gen int, target string, done chan struct{}) {
	ctx, cancel := context.WithTimeout(context.Background(), l.timeout)
	defer cancel()
	err := l.prober.Probe(ctx, target)

	l.mu.Lock()
	defer l.mu.Unlock()
	defer close(done)

	if gen != l.gen {
		return
	}
	l.probing = false
	if err != nil {
		l.state = Errored
		return
	}
	l.state = Loaded
	l.hasLoaded = true
}

func (l *Loader) viewLocked() View {
	v := View{
		State:     l.state,
		HasError:  l.state == Errored,
		HasLoaded: l.hasLoaded,
		Attempts:  l.attempts,
	}
	switch {
	case l.state == Errored || l.state == Idle || l.url == "":
		v.DisplayURL = ResolveFallbackImage(l.title)
	case IsLocalAsset(l.url):
		v.DisplayURL = l.url
	default:
		v.DisplayURL = CacheBust(l.url, l.token)
	}
	v.IsLoading = l.state == CheckingRemote ||
		(l.initiallyLoading && l.state == Loaded && !IsGenerated(l.url))
	return v
}

// Registry holds one Loader per image key for the lifetime of the process.
type Registry struct {
	prober  Prober
	timeout time.Duration

	mu      sync.Mutex
	loaders map[string]*Loader
}

func NewRegistry(prober Prober, timeout time.Duration) *Registry {
	return &Registry{
		prober:  prober,
		timeout: timeout,
		loaders: make(map[string]*Loader),
	}
}

func (r *Registry) Loader(key string) *Loader {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.loaders[key]
	if !ok {
		l = NewLoader(r.prober, r.timeout)
		r.loaders[key] = l
	}
	return l
}

// Forget drops the loader for key, e.g. after the goal is deleted.
func (r *Registry) Forget(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.loaders, key)
}
