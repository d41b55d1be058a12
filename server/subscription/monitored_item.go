// Copyright 2018-2019 opcua authors. All rights reserved.
// Use of this source code is governed by a MIT-style license that can be
// found in the LICENSE file.

package subscription

import (
	"math"
	"time"

	"github.com/opcua-core/opcua/ua"
)

// overflowBits is the InfoBits pattern OR'd into a value's status code for
// the first value retained after the item's queue dropped one (InfoType
// DataValue plus the Overflow bit).
const overflowBits ua.StatusCode = 0x00000480

// monitoredItem is one observed attribute within a subscription
// (Part 4, 5.12). All fields are guarded by the owning Engine's mutex;
// items have no lock of their own.
type monitoredItem struct {
	id           uint32
	clientHandle uint32
	target       ua.ReadValueID
	mode         ua.MonitoringMode

	samplingInterval time.Duration
	queueSize        int
	discardOldest    bool
	filter           *ua.DataChangeFilter
	eventFilter      *ua.EventFilter

	// triggered holds the monitored item ids this item fires when it
	// reports. Links survive item modification but die
	// with the item.
	triggered map[uint32]struct{}

	queue       []*ua.MonitoredItemNotification
	events      []*ua.EventFieldList
	overflowed  bool
	lastSampled time.Time
	// last is the most recently *reported* value, the reference the
	// DataChangeFilter compares against. A value rejected by the filter
	// does not move it.
	last *ua.DataValue
}

func newMonitoredItem(id uint32, req *ua.MonitoredItemCreateRequest, minInterval time.Duration) *monitoredItem {
	p := req.RequestedParameters
	interval := time.Duration(p.SamplingInterval) * time.Millisecond
	if interval < minInterval {
		interval = minInterval
	}
	qs := int(p.QueueSize)
	if qs < 1 {
		qs = 1
	}
	m := &monitoredItem{
		id:               id,
		clientHandle:     p.ClientHandle,
		target:           *req.ItemToMonitor,
		mode:             req.MonitoringMode,
		samplingInterval: interval,
		queueSize:        qs,
		discardOldest:    p.DiscardOldest,
		triggered:        make(map[uint32]struct{}),
	}
	if p.Filter != nil {
		switch f := p.Filter.Body.(type) {
		case *ua.DataChangeFilter:
			m.filter = f
		case *ua.EventFilter:
			m.eventFilter = f
		}
	}
	return m
}

// observeEvent filters and queues one event against the item's
// EventFilter: the where clause must match (equals-only), then the select
// clauses pick the reported fields in order. Fields are keyed by the last
// element of the select clause's browse path.
func (m *monitoredItem) observeEvent(fields map[string]*ua.Variant) {
	if m.mode == ua.MonitoringModeDisabled || m.eventFilter == nil {
		return
	}
	for _, cond := range m.eventFilter.WhereClause {
		if cond.Operator != ua.FilterOperatorEquals || len(cond.Operands) == 0 {
			continue
		}
		got := fields[operandKey(cond.Operands[0])]
		if got == nil || cond.Literal == nil || !variantEqual(got, cond.Literal) {
			return
		}
	}
	out := make([]*ua.Variant, len(m.eventFilter.SelectClauses))
	for i, sel := range m.eventFilter.SelectClauses {
		if v, ok := fields[operandKey(sel)]; ok {
			out[i] = v
		} else {
			out[i] = &ua.Variant{Type: ua.VariantTypeNull}
		}
	}
	if len(m.events) >= m.queueSize {
		if m.discardOldest {
			m.events = m.events[1:]
		} else {
			m.events = m.events[:len(m.events)-1]
		}
	}
	m.events = append(m.events, &ua.EventFieldList{ClientHandle: m.clientHandle, EventFields: out})
}

func operandKey(op *ua.SimpleAttributeOperand) string {
	if op == nil || len(op.BrowsePath) == 0 {
		return ""
	}
	return op.BrowsePath[len(op.BrowsePath)-1].Name
}

// observe applies the data-change filter to a freshly sampled value and
// queues it when it passes. rangeWidth is
// the node's EURange span for percent deadbands, zero when unknown.
func (m *monitoredItem) observe(dv *ua.DataValue, rangeWidth float64) {
	if dv == nil || m.mode == ua.MonitoringModeDisabled {
		return
	}
	if !m.changed(dv, rangeWidth) {
		return
	}
	m.push(dv)
	m.last = dv
}

func (m *monitoredItem) changed(dv *ua.DataValue, rangeWidth float64) bool {
	if m.last == nil {
		return true
	}
	trigger := ua.DataChangeTriggerStatusValue
	if m.filter != nil {
		trigger = m.filter.Trigger
	}
	if dv.Status != m.last.Status {
		return true
	}
	if trigger == ua.DataChangeTriggerStatus {
		return false
	}
	if trigger == ua.DataChangeTriggerStatusValueTimestamp &&
		!dv.SourceTimestamp.Equal(m.last.SourceTimestamp) {
		return true
	}
	return m.valueChanged(dv, rangeWidth)
}

func (m *monitoredItem) valueChanged(dv *ua.DataValue, rangeWidth float64) bool {
	oldF, oldNum := numericValue(m.last)
	newF, newNum := numericValue(dv)
	if m.filter != nil && m.filter.DeadbandType != ua.DeadbandNone && oldNum && newNum {
		delta := math.Abs(newF - oldF)
		switch m.filter.DeadbandType {
		case ua.DeadbandAbsolute:
			return delta > m.filter.DeadbandValue
		case ua.DeadbandPercent:
			if rangeWidth <= 0 {
				// No resolvable EURange: the deadband cannot be evaluated,
				// so every value change reports.
				return delta != 0
			}
			return delta > m.filter.DeadbandValue/100*rangeWidth
		}
	}
	if oldNum && newNum {
		return oldF != newF
	}
	return !variantEqual(m.last.Value, dv.Value)
}

// push appends to the item's ring, honouring discard_oldest on overflow
// and marking the first value retained after a drop with the Overflow
// info bits.
func (m *monitoredItem) push(dv *ua.DataValue) {
	n := &ua.MonitoredItemNotification{ClientHandle: m.clientHandle, Value: *dv}
	if len(m.queue) < m.queueSize {
		m.queue = append(m.queue, n)
		return
	}
	if m.discardOldest {
		copy(m.queue, m.queue[1:])
		m.queue[len(m.queue)-1] = n
		m.queue[0].Value.Status |= overflowBits
		m.queue[0].Value.HasStatus = true
	} else {
		m.queue[len(m.queue)-1] = n
		n.Value.Status |= overflowBits
		n.Value.HasStatus = true
	}
	m.overflowed = true
}

// drain removes and returns up to max queued notifications; max <= 0
// means all.
func (m *monitoredItem) drain(max int) []*ua.MonitoredItemNotification {
	if max <= 0 || max >= len(m.queue) {
		out := m.queue
		m.queue = nil
		return out
	}
	out := m.queue[:max:max]
	m.queue = append([]*ua.MonitoredItemNotification(nil), m.queue[max:]...)
	return out
}

func (m *monitoredItem) due(now time.Time) bool {
	return now.Sub(m.lastSampled) >= m.samplingInterval
}

// numericValue extracts a float64 from any numeric scalar Variant for
// deadband comparison.
func numericValue(dv *ua.DataValue) (float64, bool) {
	if dv == nil || dv.Value == nil || dv.Value.IsArray {
		return 0, false
	}
	switch v := dv.Value.Value.(type) {
	case int8:
		return float64(v), true
	case uint8:
		return float64(v), true
	case int16:
		return float64(v), true
	case uint16:
		return float64(v), true
	case int32:
		return float64(v), true
	case uint32:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint64:
		return float64(v), true
	case float32:
		return float64(v), true
	case float64:
		return v, true
	}
	return 0, false
}

// variantEqual is the non-numeric fallback comparison for StatusValue
// triggers: scalar payloads compare directly, anything else is treated as
// changed so no update is silently lost.
func variantEqual(a, b *ua.Variant) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a.Type != b.Type || a.IsArray != b.IsArray {
		return false
	}
	if a.IsArray {
		return false
	}
	switch av := a.Value.(type) {
	case bool, string, int8, uint8, int16, uint16, int32, uint32, int64, uint64, float32, float64:
		return av == b.Value
	case *ua.NodeID:
		bv, ok := b.Value.(*ua.NodeID)
		return ok && av.Equal(bv)
	}
	return false
}
