package engine

import (
	"fmt"
	"slices"
	"strings"

	"taskflow/internal/domain"
)

// Columns returns the ordered column list.
func (e *Engine) Columns() []domain.Column {
	return slices.Clone(e.columns)
}

func (e *Engine) columnIndex(name string) int {
	return slices.IndexFunc(e.columns, func(c domain.Column) bool { return c.Name == name })
}

func (e *Engine) column(name string) (domain.Column, error) {
	idx := e.columnIndex(name)
	if idx < 0 {
		return domain.Column{}, notFound("column", name)
	}
	return e.columns[idx], nil
}

func (e *Engine) byRole(role domain.ColumnRole) domain.Column {
	for _, c := range e.columns {
		if c.Role == role {
			return c
		}
	}
	panic(fmt.Sprintf("engine: no %s column", role))
}

func (e *Engine) intake() domain.Column   { return e.byRole(domain.RoleIntake) }
func (e *Engine) review() domain.Column   { return e.byRole(domain.RoleReview) }
func (e *Engine) terminal() domain.Column { return e.byRole(domain.RoleTerminal) }

// validateColumns checks the anchor layout: intake first, terminal last,
// one review column somewhere between, unique names.
func validateColumns(cols []domain.Column) error {
	seen := map[string]bool{}
	roles := map[domain.ColumnRole]int{}
	for i, c := range cols {
		if strings.TrimSpace(c.Name) == "" {
			return invalid("column %d has an empty name", i)
		}
		if seen[c.Name] {
			return invalid("column %s is defined twice", c.Name)
		}
		seen[c.Name] = true
		if c.Role == "" {
			continue
		}
		if _, dup := roles[c.Role]; dup {
			return invalid("column role %s is assigned twice", c.Role)
		}
		if !c.IsProtected {
			return invalid("anchor column %s must be protected", c.Name)
		}
		roles[c.Role] = i
	}
	for _, r := range []domain.ColumnRole{domain.RoleIntake, domain.RoleReview, domain.RoleTerminal} {
		if _, ok := roles[r]; !ok {
			return invalid("missing %s column", r)
		}
	}
	if roles[domain.RoleIntake] != 0 || roles[domain.RoleTerminal] != len(cols)-1 {
		return invalid("intake column must be first and terminal column last")
	}
	return nil
}

func (e *Engine) checkNewName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", invalid("column name is required")
	}
	if e.columnIndex(name) >= 0 {
		return "", invalid("column %s already exists", name)
	}
	return name, nil
}

// AddColumn inserts a column just before the review anchor.
func (e *Engine) AddColumn(name, actorID string) (domain.Column, error) {
	name, err := e.checkNewName(name)
	if err != nil {
		return domain.Column{}, err
	}
	col := domain.Column{Name: name}
	e.columns = slices.Insert(e.columns, e.columnIndex(e.review().Name), col)
	e.dirty.columns = true
	e.record("column.added", "", actorID, fmt.Sprintf("Added column %s", name))
	return col, nil
}

// RenameColumn renames a column and carries its tasks along.
func (e *Engine) RenameColumn(oldName, newName, actorID string) (domain.Column, error) {
	idx := e.columnIndex(oldName)
	if idx < 0 {
		return domain.Column{}, notFound("column", oldName)
	}
	if e.columns[idx].IsProtected {
		return domain.Column{}, fmt.Errorf("%w: %s cannot be renamed", ErrProtectedColumn, oldName)
	}
	if strings.TrimSpace(newName) == oldName {
		return e.columns[idx], nil
	}
	newName, err := e.checkNewName(newName)
	if err != nil {
		return domain.Column{}, err
	}
	e.columns[idx].Name = newName
	for _, t := range e.tasks {
		if t.Status == oldName {
			t.Status = newName
			e.bump(t)
		}
	}
	e.dirty.columns = true
	e.record("column.renamed", "", actorID, fmt.Sprintf("Renamed column %s to %s", oldName, newName))
	return e.columns[idx], nil
}

// DeleteColumn removes a column and moves its tasks to the intake column.
func (e *Engine) DeleteColumn(name, actorID string) error {
	idx := e.columnIndex(name)
	if idx < 0 {
		return notFound("column", name)
	}
	if e.columns[idx].IsProtected {
		return fmt.Errorf("%w: %s cannot be deleted", ErrProtectedColumn, name)
	}
	intake := e.intake().Name
	moved := 0
	for _, t := range e.tasks {
		if t.Status == name {
			t.Status = intake
			e.bump(t)
			moved++
		}
	}
	e.columns = slices.Delete(e.columns, idx, idx+1)
	e.dirty.columns = true
	e.record("column.deleted", "", actorID, fmt.Sprintf("Deleted column %s; %d task(s) moved to %s", name, moved, intake))
	return nil
}

// MoveColumn swaps a column with its neighbour. Anchors never move and no
// column may be swapped past one.
func (e *Engine) MoveColumn(name string, dir Direction, actorID string) ([]domain.Column, error) {
	idx := e.columnIndex(name)
	if idx < 0 {
		return nil, notFound("column", name)
	}
	if dir != Up && dir != Down {
		return nil, invalid("unknown direction %d", dir)
	}
	if e.columns[idx].IsProtected {
		return nil, fmt.Errorf("%w: %s cannot be reordered", ErrProtectedColumn, name)
	}
	j := idx + int(dir)
	if j < 0 || j >= len(e.columns) {
		return e.Columns(), nil
	}
	if e.columns[j].IsProtected {
		return nil, fmt.Errorf("%w: %s cannot move past %s", ErrProtectedColumn, name, e.columns[j].Name)
	}
	e.columns[idx], e.columns[j] = e.columns[j], e.columns[idx]
	e.dirty.columns = true
	e.record("column.moved", "", actorID, fmt.Sprintf("Moved column %s %s", name, dir))
	return e.Columns(), nil
}
