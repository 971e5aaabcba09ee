package domain

import "fmt"

// Versioned pairs the new state of an entity with the version it was read at.
type Versioned[T Entity] struct {
	Value    T
	Expected int64
}

// ChangeSet is a group of version-checked updates committed together.
type ChangeSet struct {
	Series       []Versioned[Series]
	Products     []Versioned[Product]
	Parts        []Versioned[Part]
	ServiceTasks []Versioned[ServiceTask]
}

func (cs ChangeSet) Empty() bool {
	return len(cs.Series)+len(cs.Products)+len(cs.Parts)+len(cs.ServiceTasks) == 0
}

// Add appends e to the matching bucket.
func (cs *ChangeSet) Add(e Entity, expected int64) error {
	switch v := e.(type) {
	case Series:
		cs.Series = append(cs.Series, Versioned[Series]{Value: v, Expected: expected})
	case Product:
		cs.Products = append(cs.Products, Versioned[Product]{Value: v, Expected: expected})
	case Part:
		cs.Parts = append(cs.Parts, Versioned[Part]{Value: v, Expected: expected})
	case ServiceTask:
		cs.ServiceTasks = append(cs.ServiceTasks, Versioned[ServiceTask]{Value: v, Expected: expected})
	default:
		return fmt.Errorf("%w: unsupported entity %T", ErrInvalidInput, e)
	}
	return nil
}

// CheckVersions verifies every value is exactly one past its expected version.
func (cs ChangeSet) CheckVersions() error {
	check := func(e Entity, expected int64) error {
		if e.EntityVersion() != expected+1 {
			return fmt.Errorf("%w: %s %s carries version %d, expected %d",
				ErrInvalidInput, e.EntityKind(), e.EntityID(), e.EntityVersion(), expected+1)
		}
		return nil
	}
	for _, c := range cs.Series {
		if err := check(c.Value, c.Expected); err != nil {
			return err
		}
	}
	for _, c := range cs.Products {
		if err := check(c.Value, c.Expected); err != nil {
			return err
		}
	}
	for _, c := range cs.Parts {
		if err := check(c.Value, c.Expected); err != nil {
			return err
		}
	}
	for _, c := range cs.ServiceTasks {
		if err := check(c.Value, c.Expected); err != nil {
			return err
		}
	}
	return nil
}
