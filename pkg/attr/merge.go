package attr

import (
	"fmt"
	"strings"
)

// Conflict records a key whose value changed kind between two sources.
// The incoming (higher priority) value is the one kept.
type Conflict struct {
	Key      string
	Existing Kind
	Incoming Kind
}

func (c Conflict) Error() string {
	return fmt.Sprintf("key %q: %s overridden by %s", c.Key, c.Existing, c.Incoming)
}

// Merge folds sources into a new tree. Sources are given in ascending
// priority: on a key collision the later source wins. Nested mappings merge
// recursively so non-conflicting keys from every source survive. A null
// incoming value never replaces an existing one.
//
// Collisions between different non-null kinds are returned as conflicts;
// they do not stop the merge.
func Merge(sources ...map[string]Value) (map[string]Value, []Conflict) {
	out := make(map[string]Value)
	var conflicts []Conflict
	for _, src := range sources {
		mergeInto(out, src, "", &conflicts)
	}
	return out, conflicts
}

func mergeInto(dst, src map[string]Value, prefix string, conflicts *[]Conflict) {
	for _, k := range SortedKeys(src) {
		incoming := src[k]
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}

		existing, ok := dst[k]
		if !ok || existing.IsNull() {
			dst[k] = incoming.Clone()
			continue
		}
		if incoming.IsNull() {
			continue
		}

		if existing.kind == KindMap && incoming.kind == KindMap {
			merged := existing.Clone()
			mergeInto(merged.m, incoming.m, key, conflicts)
			dst[k] = merged
			continue
		}

		if existing.kind != incoming.kind {
			*conflicts = append(*conflicts, Conflict{
				Key:      key,
				Existing: existing.kind,
				Incoming: incoming.kind,
			})
		}
		dst[k] = incoming.Clone()
	}
}

// Flatten converts a tree into path-qualified keys ("a.b.c"). Mappings are
// expanded; every other value, sequences included, becomes a leaf. Empty
// mappings produce no keys.
func Flatten(tree map[string]Value) map[string]Value {
	out := make(map[string]Value)
	flattenInto(out, tree, "")
	return out
}

func flattenInto(out, tree map[string]Value, prefix string) {
	for k, v := range tree {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if v.kind == KindMap {
			flattenInto(out, v.m, key)
			continue
		}
		out[key] = v
	}
}

// Lookup walks a tree along a dotted path.
func Lookup(tree map[string]Value, path string) (Value, bool) {
	parts := strings.Split(path, ".")
	cur := Map(tree)
	for _, p := range parts {
		next, ok := cur.Fields()[p]
		if !ok {
			return Value{}, false
		}
		cur = next
	}
	return cur, true
}

// FindLeaf searches a flattened map for a key named name, either exactly or
// as the last path element. The shallowest match wins; ties break lexically.
func FindLeaf(flat map[string]Value, name string) (string, Value, bool) {
	var bestKey string
	bestDepth := -1
	for k := range flat {
		if k != name && !strings.HasSuffix(k, "."+name) {
			continue
		}
		depth := strings.Count(k, ".")
		if bestDepth < 0 || depth < bestDepth || (depth == bestDepth && k < bestKey) {
			bestKey, bestDepth = k, depth
		}
	}
	if bestDepth < 0 {
		return "", Value{}, false
	}
	return bestKey, flat[bestKey], true
}
