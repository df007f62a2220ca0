// Package drift compares two inventory runs item by item.
package drift

import (
	"bytes"
	"encoding/json"
	"sort"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/raysh454/kansa/internal/model"
)

// Chunk is one inserted or deleted span of a payload diff.
type Chunk struct {
	Type    string `json:"type"` // "added" or "removed"
	Content string `json:"content"`
}

// Change is an item present in both runs whose payload differs.
type Change struct {
	Domain      model.Domain `json:"domain"`
	ExternalID  string       `json:"external_id"`
	DisplayName string       `json:"display_name"`
	Chunks      []Chunk      `json:"chunks"`
}

// Entry names an item that exists in only one of the runs.
type Entry struct {
	Domain      model.Domain `json:"domain"`
	ExternalID  string       `json:"external_id"`
	DisplayName string       `json:"display_name"`
}

// Report is the drift from base to head.
type Report struct {
	BaseRunID string   `json:"base_run_id,omitempty"`
	HeadRunID string   `json:"head_run_id,omitempty"`
	Added     []Entry  `json:"added"`
	Removed   []Entry  `json:"removed"`
	Changed   []Change `json:"changed"`
	Unchanged int      `json:"unchanged"`
}

type key struct {
	domain model.Domain
	id     string
}

// Compare matches items on (domain, external id). Payloads are compared in
// canonical form, so key order and whitespace never count as drift.
func Compare(base, head []model.InventoryItem) *Report {
	r := &Report{Added: []Entry{}, Removed: []Entry{}, Changed: []Change{}}

	baseByKey := index(base)
	headByKey := index(head)

	for k, h := range headByKey {
		b, ok := baseByKey[k]
		if !ok {
			r.Added = append(r.Added, entry(h))
			continue
		}
		bc, hc := Canonical(b.Payload), Canonical(h.Payload)
		if bc == hc {
			r.Unchanged++
			continue
		}
		r.Changed = append(r.Changed, Change{
			Domain:      h.Domain,
			ExternalID:  h.ExternalID,
			DisplayName: h.DisplayName,
			Chunks:      diffChunks(bc, hc),
		})
	}
	for k, b := range baseByKey {
		if _, ok := headByKey[k]; !ok {
			r.Removed = append(r.Removed, entry(b))
		}
	}

	sortEntries(r.Added)
	sortEntries(r.Removed)
	sort.Slice(r.Changed, func(i, j int) bool {
		return less(r.Changed[i].Domain, r.Changed[i].ExternalID, r.Changed[j].Domain, r.Changed[j].ExternalID)
	})
	return r
}

// Canonical re-encodes a JSON payload with sorted keys and fixed
// indentation. Invalid JSON is returned trimmed but otherwise untouched.
func Canonical(raw json.RawMessage) string {
	if len(bytes.TrimSpace(raw)) == 0 {
		return ""
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return strings.TrimSpace(string(raw))
	}
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return strings.TrimSpace(string(raw))
	}
	return string(out)
}

func diffChunks(base, head string) []Chunk {
	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(base, head, true)
	diffs = dmp.DiffCleanupSemantic(diffs)

	chunks := make([]Chunk, 0)
	for _, d := range diffs {
		var typ string
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			typ = "added"
		case diffmatchpatch.DiffDelete:
			typ = "removed"
		default:
			continue
		}
		if strings.TrimSpace(d.Text) != "" {
			chunks = append(chunks, Chunk{Type: typ, Content: d.Text})
		}
	}
	return chunks
}

func index(items []model.InventoryItem) map[key]model.InventoryItem {
	out := make(map[key]model.InventoryItem, len(items))
	for _, it := range items {
		out[key{it.Domain, it.ExternalID}] = it
	}
	return out
}

func entry(it model.InventoryItem) Entry {
	return Entry{Domain: it.Domain, ExternalID: it.ExternalID, DisplayName: it.DisplayName}
}

func sortEntries(list []Entry) {
	sort.Slice(list, func(i, j int) bool {
		return less(list[i].Domain, list[i].ExternalID, list[j].Domain, list[j].ExternalID)
	})
}

func less(da model.Domain, ia string, db model.Domain, ib string) bool {
	oa, ob := model.DomainOrder(model.KindInventory, da), model.DomainOrder(model.KindInventory, db)
	if oa != ob {
		return oa < ob
	}
	return ia < ib
}
