package queryfield

import "github.com/pkg/errors"

// Set keeps query fields in insertion order, unique by Name.
type Set struct {
	fields []*QueryField
	index  map[string]int
}

func NewSet() *Set {
	return &Set{index: make(map[string]int)}
}

// Add appends qf. A field with the same Name is rejected with ErrDuplicateName.
func (s *Set) Add(qf *QueryField) error {
	if _, ok := s.index[qf.Name]; ok {
		return errors.Wrapf(ErrDuplicateName, "%s", qf.Name)
	}
	s.index[qf.Name] = len(s.fields)
	s.fields = append(s.fields, qf)
	return nil
}

func (s *Set) Get(name string) (*QueryField, bool) {
	i, ok := s.index[name]
	if !ok {
		return nil, false
	}
	return s.fields[i], true
}

func (s *Set) Fields() []*QueryField {
	return s.fields
}

func (s *Set) Len() int {
	return len(s.fields)
}
