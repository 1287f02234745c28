package services

import (
	"fmt"
	"sort"
)

// GroupRow is the normalized storage representation of one group node.
// ParentID is empty for roots.
type GroupRow struct {
	ID       string       `json:"id"`
	FormID   string       `json:"form_id"`
	ParentID string       `json:"parent_id,omitempty"`
	Title    string       `json:"title"`
	Order    int          `json:"order"`
	Criteria []*Criterion `json:"criteria,omitempty"`
}

// AssembleGroups reconstructs the group hierarchy from a flat,
// parent-referencing row set. Siblings come out ordered by order index
// ascending, ties broken by id. Malformed input (duplicate ids, unknown
// parents, cyclic references, duplicate order indices within a sibling
// scope) is a structural error and yields no partial tree.
func AssembleGroups(rows []GroupRow) ([]*FormGroup, error) {
	index := make(map[string]GroupRow, len(rows))
	for _, r := range rows {
		if r.ID == "" {
			return nil, NewStructuralError("group row without id")
		}
		if _, dup := index[r.ID]; dup {
			return nil, NewStructuralError("duplicate group id " + r.ID)
		}
		index[r.ID] = r
	}

	children := make(map[string][]GroupRow)
	for _, r := range rows {
		if r.ParentID != "" {
			if r.ParentID == r.ID {
				return nil, NewStructuralError("group " + r.ID + " references itself as parent")
			}
			if _, ok := index[r.ParentID]; !ok {
				return nil, NewStructuralError(fmt.Sprintf("group %s references unknown parent %s", r.ID, r.ParentID))
			}
		}
		children[r.ParentID] = append(children[r.ParentID], r)
	}

	for parent, siblings := range children {
		sort.Slice(siblings, func(i, j int) bool {
			if siblings[i].Order != siblings[j].Order {
				return siblings[i].Order < siblings[j].Order
			}
			return siblings[i].ID < siblings[j].ID
		})
		seen := make(map[int]string, len(siblings))
		for _, s := range siblings {
			if other, dup := seen[s.Order]; dup {
				scope := "root scope"
				if parent != "" {
					scope = "group " + parent
				}
				return nil, NewStructuralError(fmt.Sprintf("groups %s and %s share order %d in %s", other, s.ID, s.Order, scope))
			}
			seen[s.Order] = s.ID
		}
	}

	built := 0
	onStack := make(map[string]bool)
	var materialize func(r GroupRow) (*FormGroup, error)
	materialize = func(r GroupRow) (*FormGroup, error) {
		// Well-formed storage never produces a cycle reachable from a
		// root, but storage integrity is an external concern.
		if onStack[r.ID] {
			return nil, NewStructuralError("cyclic parent reference through group " + r.ID)
		}
		onStack[r.ID] = true
		g := &FormGroup{
			ID:       r.ID,
			Title:    r.Title,
			Order:    r.Order,
			Criteria: cloneCriteria(r.Criteria),
		}
		for _, c := range children[r.ID] {
			child, err := materialize(c)
			if err != nil {
				return nil, err
			}
			g.Children = append(g.Children, child)
		}
		delete(onStack, r.ID)
		built++
		return g, nil
	}

	roots := make([]*FormGroup, 0, len(children[""]))
	for _, r := range children[""] {
		g, err := materialize(r)
		if err != nil {
			return nil, err
		}
		roots = append(roots, g)
	}

	// Rows in a parent cycle are never reached from a root.
	if built != len(rows) {
		return nil, NewStructuralError("cyclic parent reference among group rows")
	}
	return roots, nil
}

// FlattenGroups is the inverse of AssembleGroups: it renders a tree back
// into parent-referencing rows for storage.
func FlattenGroups(formID string, groups []*FormGroup) []GroupRow {
	var rows []GroupRow
	var walk func(parentID string, gs []*FormGroup)
	walk = func(parentID string, gs []*FormGroup) {
		for _, g := range gs {
			rows = append(rows, GroupRow{
				ID:       g.ID,
				FormID:   formID,
				ParentID: parentID,
				Title:    g.Title,
				Order:    g.Order,
				Criteria: cloneCriteria(g.Criteria),
			})
			walk(g.ID, g.Children)
		}
	}
	walk("", groups)
	return rows
}
