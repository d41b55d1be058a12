// Copyright 2018-2019 opcua authors. All rights reserved.
// Use of this source code is governed by a MIT-style license that can be
// found in the LICENSE file.

// Package browser implements the recursive address-space resolver:
// depth-limited expansion driven by a caller policy, bounded
// request concurrency, (node, direction) deduplication and continuation-
// point budgeting with retry and best-effort release.
package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/opcua-core/opcua/internal/telemetry"
	"github.com/opcua-core/opcua/ua"
)

// ErrInvalidDirection is the abort cause when a Policy returns a browse
// direction outside Forward/Inverse/Both.
var ErrInvalidDirection = errors.New("browser: policy returned an invalid browse direction")

// Service is the slice of the client surface the browser drives; a
// *opcua.Client satisfies it.
type Service interface {
	Browse(req *ua.BrowseRequest) (*ua.BrowseResponse, error)
	BrowseNext(req *ua.BrowseNextRequest) (*ua.BrowseNextResponse, error)
}

// Config bounds the browse traversal.
type Config struct {
	// MaxConcurrentRequests caps in-flight Browse/BrowseNext calls.
	MaxConcurrentRequests int
	// MaxNodesPerRequest caps node descriptions per Browse call.
	MaxNodesPerRequest int
	// MaxReferencesPerNode is passed through to the server; 0 lets the
	// server choose.
	MaxReferencesPerNode uint32
	// MaxContinuationPointRetries bounds re-running a node's browse from
	// the beginning after BadContinuationPointInvalid.
	MaxContinuationPointRetries int
	// MaxDepth stops expansion below this depth; 0 means unlimited.
	MaxDepth int
}

// DefaultConfig matches the limits a well-behaved client uses against an
// unknown server.
func DefaultConfig() Config {
	return Config{
		MaxConcurrentRequests:       4,
		MaxNodesPerRequest:          100,
		MaxContinuationPointRetries: 2,
	}
}

// ResultItem is one streamed reference.
type ResultItem struct {
	// SourceID is the browsed node this reference was found on.
	SourceID *ua.NodeID
	// Reference describes the target.
	Reference *ua.ReferenceDescription
	// Depth is the expansion depth, 0 for references of the seed nodes.
	Depth int
}

// Policy decides whether and how to expand the node a result item points
// at. Returning expand=false stops there; returning
// ua.BrowseDirectionInvalid with expand=true aborts the whole stream.
type Policy func(item *ResultItem) (direction ua.BrowseDirection, expand bool)

// Browser runs browse traversals against one Service.
type Browser struct {
	svc Service
	cfg Config
	log zerolog.Logger
}

func New(svc Service, cfg Config) *Browser {
	if cfg.MaxConcurrentRequests <= 0 {
		cfg.MaxConcurrentRequests = 1
	}
	if cfg.MaxNodesPerRequest <= 0 {
		cfg.MaxNodesPerRequest = 100
	}
	return &Browser{svc: svc, cfg: cfg, log: telemetry.Logger("browser")}
}

// task is one (node, direction) to browse, carrying the template
// description and its expansion depth.
type task struct {
	desc  *ua.BrowseDescription
	depth int
}

const (
	maskForward = 1
	maskInverse = 2
	maskBoth    = maskForward | maskInverse
)

func directionMask(d ua.BrowseDirection) uint8 {
	switch d {
	case ua.BrowseDirectionForward:
		return maskForward
	case ua.BrowseDirectionInverse:
		return maskInverse
	case ua.BrowseDirectionBoth:
		return maskBoth
	}
	return 0
}

func maskDirection(m uint8) ua.BrowseDirection {
	switch m {
	case maskForward:
		return ua.BrowseDirectionForward
	case maskInverse:
		return ua.BrowseDirectionInverse
	default:
		return ua.BrowseDirectionBoth
	}
}

// traversal is the shared state of one Stream call.
type traversal struct {
	b      *Browser
	policy Policy
	items  chan<- *ResultItem

	mu      sync.Mutex
	seen    map[string]uint8 // node id -> browsed direction mask
	queue   []*task
	aborted error

	cpMu        sync.Mutex
	outstanding map[string][]byte // unreleased continuation points
}

// Stream browses from seeds, expanding per policy, and sends every unique
// reference to the returned channel. The error channel yields exactly one
// value when the item channel closes: nil on normal completion, or the
// abort cause. Outstanding continuation points are released best-effort
// on both paths.
func (b *Browser) Stream(ctx context.Context, seeds []*ua.BrowseDescription, policy Policy) (<-chan *ResultItem, <-chan error) {
	items := make(chan *ResultItem, 64)
	errc := make(chan error, 1)
	t := &traversal{
		b:           b,
		policy:      policy,
		items:       items,
		seen:        make(map[string]uint8),
		outstanding: make(map[string][]byte),
	}
	for _, d := range seeds {
		t.enqueue(d, 0)
	}
	go func() {
		err := t.run(ctx)
		t.releaseOutstanding()
		close(items)
		errc <- err
	}()
	return items, errc
}

// enqueue applies deduplication keyed on (node id, direction), with Both
// absorbing Forward+Inverse, and adds the not-yet-browsed remainder.
func (t *traversal) enqueue(desc *ua.BrowseDescription, depth int) {
	mask := directionMask(desc.Direction)
	if mask == 0 || desc.NodeID == nil {
		return
	}
	key := desc.NodeID.String()
	t.mu.Lock()
	defer t.mu.Unlock()
	need := mask &^ t.seen[key]
	if need == 0 {
		return
	}
	t.seen[key] |= mask
	d := *desc
	d.Direction = maskDirection(need)
	t.queue = append(t.queue, &task{desc: &d, depth: depth})
}

func (t *traversal) abort(err error) {
	t.mu.Lock()
	if t.aborted == nil {
		t.aborted = err
	}
	t.mu.Unlock()
}

func (t *traversal) failed() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.aborted
}

// run drains the queue in waves: each wave takes everything queued,
// splits it into MaxNodesPerRequest batches and runs up to
// MaxConcurrentRequests of them in parallel; references discovered in one
// wave queue work for the next.
func (t *traversal) run(ctx context.Context) error {
	sem := make(chan struct{}, t.b.cfg.MaxConcurrentRequests)
	for {
		if err := t.failed(); err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		t.mu.Lock()
		wave := t.queue
		t.queue = nil
		t.mu.Unlock()
		if len(wave) == 0 {
			return t.failed()
		}

		var wg sync.WaitGroup
		for start := 0; start < len(wave); start += t.b.cfg.MaxNodesPerRequest {
			end := start + t.b.cfg.MaxNodesPerRequest
			if end > len(wave) {
				end = len(wave)
			}
			batch := wave[start:end]
			sem <- struct{}{}
			wg.Add(1)
			go func() {
				defer wg.Done()
				defer func() { <-sem }()
				t.browseBatch(ctx, batch, 0)
			}()
		}
		wg.Wait()
	}
}

// browseBatch issues one Browse call for batch and walks every result,
// following continuation points. A BadContinuationPointInvalid mid-walk
// re-runs that node's browse from the beginning up to the retry budget.
func (t *traversal) browseBatch(ctx context.Context, batch []*task, attempt int) {
	if t.failed() != nil || ctx.Err() != nil {
		return
	}
	descs := make([]*ua.BrowseDescription, len(batch))
	for i, tk := range batch {
		descs[i] = tk.desc
	}
	resp, err := t.b.svc.Browse(&ua.BrowseRequest{
		RequestedMaxReferencesPerNode: t.b.cfg.MaxReferencesPerNode,
		NodesToBrowse:                 descs,
	})
	if err != nil {
		t.abort(err)
		return
	}
	if len(resp.Results) != len(batch) {
		t.abort(fmt.Errorf("browser: %d results for %d descriptions", len(resp.Results), len(batch)))
		return
	}
	for i, res := range resp.Results {
		t.walkResult(ctx, batch[i], res, attempt)
	}
}

func (t *traversal) walkResult(ctx context.Context, tk *task, res *ua.BrowseResult, attempt int) {
	if res.StatusCode != ua.StatusOK {
		// Per-node failures don't abort the stream; the node simply
		// yields nothing.
		t.b.log.Debug().Str("node", tk.desc.NodeID.String()).Err(res.StatusCode).Msg("browse failed")
		return
	}
	t.emitReferences(tk, res.References)

	cp := res.ContinuationPoint
	for len(cp) > 0 {
		if t.failed() != nil || ctx.Err() != nil {
			t.trackCP(cp)
			return
		}
		next, err := t.b.svc.BrowseNext(&ua.BrowseNextRequest{ContinuationPoints: [][]byte{cp}})
		if err != nil {
			t.abort(err)
			return
		}
		if len(next.Results) != 1 {
			t.abort(fmt.Errorf("browser: BrowseNext returned %d results", len(next.Results)))
			return
		}
		res := next.Results[0]
		if res.StatusCode == ua.StatusBadContinuationPointInvalid {
			if attempt >= t.b.cfg.MaxContinuationPointRetries {
				t.abort(ua.StatusBadContinuationPointInvalid)
				return
			}
			t.b.log.Debug().Str("node", tk.desc.NodeID.String()).Int("attempt", attempt+1).Msg("continuation point invalid, retrying from start")
			t.browseBatch(ctx, []*task{tk}, attempt+1)
			return
		}
		if res.StatusCode != ua.StatusOK {
			return
		}
		t.emitReferences(tk, res.References)
		cp = res.ContinuationPoint
	}
}

func (t *traversal) emitReferences(tk *task, refs []*ua.ReferenceDescription) {
	for _, ref := range refs {
		item := &ResultItem{SourceID: tk.desc.NodeID, Reference: ref, Depth: tk.depth}
		t.items <- item
		dir, expand := t.policy(item)
		if !expand {
			continue
		}
		if dir != ua.BrowseDirectionForward && dir != ua.BrowseDirectionInverse && dir != ua.BrowseDirectionBoth {
			// An invalid direction from the policy aborts the whole
			// stream rather than just this item.
			t.abort(ErrInvalidDirection)
			return
		}
		if t.b.cfg.MaxDepth > 0 && tk.depth+1 >= t.b.cfg.MaxDepth {
			continue
		}
		next := *tk.desc
		next.NodeID = ref.NodeID.NodeID
		next.Direction = dir
		t.enqueue(&next, tk.depth+1)
	}
}

func (t *traversal) trackCP(cp []byte) {
	t.cpMu.Lock()
	t.outstanding[string(cp)] = cp
	t.cpMu.Unlock()
}

// releaseOutstanding frees continuation points left over after
// cancellation or abort, in best-effort batches.
func (t *traversal) releaseOutstanding() {
	t.cpMu.Lock()
	cps := make([][]byte, 0, len(t.outstanding))
	for _, cp := range t.outstanding {
		cps = append(cps, cp)
	}
	t.outstanding = map[string][]byte{}
	t.cpMu.Unlock()
	for start := 0; start < len(cps); start += t.b.cfg.MaxNodesPerRequest {
		end := start + t.b.cfg.MaxNodesPerRequest
		if end > len(cps) {
			end = len(cps)
		}
		if _, err := t.b.svc.BrowseNext(&ua.BrowseNextRequest{
			ReleaseContinuationPoints: true,
			ContinuationPoints:        cps[start:end],
		}); err != nil {
			t.b.log.Debug().Err(err).Msg("continuation point release failed")
		}
	}
}
