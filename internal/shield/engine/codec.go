package engine

import (
	"bytes"
	"context"
	"encoding/gob"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/haukened/rr-shield/internal/shield/common/clock"
	"github.com/haukened/rr-shield/internal/shield/common/log"
	"github.com/haukened/rr-shield/internal/shield/domain"
	"github.com/haukened/rr-shield/internal/shield/repos/blocklist/parsers"
)

var (
	// ErrNetwork is wrapped when a rule list cannot be downloaded.
	ErrNetwork = errors.New("rule list fetch failed")
	// ErrParse is wrapped when a downloaded rule list cannot be parsed.
	ErrParse = errors.New("rule list parse failed")
	// ErrInvalidSources is wrapped when the source set fails validation.
	ErrInvalidSources = errors.New("invalid rule sources")
	// ErrFormat is wrapped when serialized engine bytes cannot be decoded.
	ErrFormat = errors.New("invalid engine format")
)

// Wire header: magic, format version, flags.
var magic = [4]byte{'R', 'R', 'S', 'E'}

const (
	formatVersion   byte = 1
	flagCompressed  byte = 1 << 0
	headerLen            = len(magic) + 2
	maxDecodedBytes      = 256 << 20
	defaultParallel      = 4
)

// Fetcher downloads one rule list.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// CodecOptions configures a Codec.
type CodecOptions struct {
	Fetcher     Fetcher // required
	Compression bool    // brotli-compress serialized engines
	Parallel    int     // concurrent list downloads, 0 selects the default
	Engine      Options
	// options to inject for testing purposes
	Clock  clock.Clock
	Logger log.Logger
}

// Codec compiles engines from remote lists and converts them to and from bytes.
type Codec struct {
	fetcher     Fetcher
	compression bool
	parallel    int
	engineOpts  Options
	clock       clock.Clock
	logger      log.Logger
}

// NewCodec creates a Codec. A Fetcher is required.
func NewCodec(opts CodecOptions) (*Codec, error) {
	if opts.Fetcher == nil {
		return nil, errors.New("engine codec requires a fetcher")
	}
	if opts.Parallel <= 0 {
		opts.Parallel = defaultParallel
	}
	if opts.Clock == nil {
		opts.Clock = clock.RealClock{}
	}
	if opts.Logger == nil {
		opts.Logger = log.GetLogger()
	}
	return &Codec{
		fetcher:     opts.Fetcher,
		compression: opts.Compression,
		parallel:    opts.Parallel,
		engineOpts:  opts.Engine,
		clock:       opts.Clock,
		logger:      log.Component(opts.Logger, "codec"),
	}, nil
}

// Compile downloads and parses every source, then builds an Engine. A single
// failing list fails the whole compile.
func (c *Codec) Compile(ctx context.Context, sources domain.RuleSourceSet) (*Engine, error) {
	if err := sources.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSources, err)
	}

	start := c.clock.Now()
	perSource := make([][]domain.BlockRule, len(sources))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.parallel)
	for i, src := range sources {
		g.Go(func() error {
			body, err := c.fetcher.Fetch(gctx, src.URL)
			if err != nil {
				return fmt.Errorf("%w: %w", ErrNetwork, err)
			}
			format, err := domain.ParseListFormat(string(src.Format))
			if err != nil {
				return fmt.Errorf("%w: %s: %w", ErrParse, src.URL, err)
			}
			rules, err := parsers.Parse(format, bytes.NewReader(body), src.URL, c.logger, start)
			if err != nil {
				return fmt.Errorf("%w: %s: %w", ErrParse, src.URL, err)
			}
			perSource[i] = rules
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var all []domain.BlockRule
	for _, rules := range perSource {
		all = append(all, rules...)
	}

	e, err := New(all, sources.URLs(), start, c.engineOpts)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrParse, err)
	}
	st := e.Stats()
	c.logger.Info(map[string]any{
		"engine":     st.ID,
		"sources":    st.Sources,
		"rules":      st.Rules,
		"exceptions": st.Exceptions,
		"elapsed":    c.clock.Now().Sub(start).String(),
	}, "engine compiled")
	return e, nil
}

type snapshot struct {
	ID      string
	BuiltAt int64
	Sources []string
	Rules   []ruleRecord
}

type ruleRecord struct {
	Name       string
	Kind       uint8
	Exception  bool
	ThirdParty bool
	Source     string
	AddedAt    int64
}

// Serialize encodes e into the cache format.
func (c *Codec) Serialize(e *Engine) ([]byte, error) {
	snap := snapshot{
		ID:      e.ID(),
		BuiltAt: e.builtAt.UnixNano(),
		Sources: e.sources,
		Rules:   make([]ruleRecord, len(e.rules)),
	}
	for i, r := range e.rules {
		snap.Rules[i] = ruleRecord{
			Name:       r.Name,
			Kind:       uint8(r.Kind),
			Exception:  r.Exception,
			ThirdParty: r.ThirdParty,
			Source:     r.Source,
			AddedAt:    r.AddedAt.UnixNano(),
		}
	}

	var buf bytes.Buffer
	buf.Write(magic[:])
	buf.WriteByte(formatVersion)
	if !c.compression {
		buf.WriteByte(0)
		if err := gob.NewEncoder(&buf).Encode(snap); err != nil {
			return nil, fmt.Errorf("encode engine: %w", err)
		}
		return buf.Bytes(), nil
	}

	buf.WriteByte(flagCompressed)
	w := brotli.NewWriterLevel(&buf, brotli.DefaultCompression)
	if err := gob.NewEncoder(w).Encode(snap); err != nil {
		return nil, fmt.Errorf("encode engine: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("compress engine: %w", err)
	}
	return buf.Bytes(), nil
}

// Deserialize rebuilds an Engine from bytes produced by Serialize. The
// compression flag is read from the data, not from the codec's options.
func (c *Codec) Deserialize(data []byte) (*Engine, error) {
	if len(data) < headerLen || !bytes.Equal(data[:len(magic)], magic[:]) {
		return nil, fmt.Errorf("%w: bad header", ErrFormat)
	}
	if v := data[len(magic)]; v != formatVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrFormat, v)
	}
	flags := data[len(magic)+1]
	if flags&^flagCompressed != 0 {
		return nil, fmt.Errorf("%w: unknown flags %#x", ErrFormat, flags)
	}

	var r io.Reader = bytes.NewReader(data[headerLen:])
	if flags&flagCompressed != 0 {
		r = brotli.NewReader(r)
	}
	var snap snapshot
	if err := gob.NewDecoder(io.LimitReader(r, maxDecodedBytes)).Decode(&snap); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFormat, err)
	}

	id, err := uuid.Parse(snap.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: engine id: %w", ErrFormat, err)
	}
	rules := make([]domain.BlockRule, len(snap.Rules))
	for i, rec := range snap.Rules {
		rules[i] = domain.BlockRule{
			Name:       rec.Name,
			Kind:       domain.BlockRuleKind(rec.Kind),
			Exception:  rec.Exception,
			ThirdParty: rec.ThirdParty,
			Source:     rec.Source,
			AddedAt:    time.Unix(0, rec.AddedAt),
		}
	}
	e, err := build(id, rules, snap.Sources, time.Unix(0, snap.BuiltAt), c.engineOpts)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFormat, err)
	}
	return e, nil
}
