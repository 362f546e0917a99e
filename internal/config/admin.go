package config

import "errors"

// Operator surface: plain CRUD guarded by a role check. The settlement core
// only ever reads; mutation happens through these entry points at the service
// boundary.

var (
	ErrNotOperator = errors.New("caller is not the operator")
	ErrUnknownPair = errors.New("unknown pair")
)

func (s *Store) authorize(key string) error {
	if s.operatorKey == "" || key != s.operatorKey {
		return ErrNotOperator
	}
	return nil
}

// SetPaused halts new order intake globally. Settlement of in-flight requests
// continues so no escrowed funds are stranded.
func (s *Store) SetPaused(operatorKey string, paused bool) error {
	if err := s.authorize(operatorKey); err != nil {
		return err
	}
	s.paused = paused
	return nil
}

// Paused reports whether new order intake is halted.
func (s *Store) Paused() bool {
	return s.paused
}

// ListPair registers a new pair or re-lists a delisted one.
func (s *Store) ListPair(operatorKey string, pr *Pair) error {
	if err := s.authorize(operatorKey); err != nil {
		return err
	}
	if _, ok := s.groups[pr.GroupIndex]; !ok {
		return errors.New("unknown group")
	}
	if _, ok := s.fees[pr.FeeIndex]; !ok {
		return errors.New("unknown fee schedule")
	}
	pr.Listed = true
	s.pairs[pr.Index] = pr
	return nil
}

// DelistPair hides a pair from new orders; open positions still settle.
func (s *Store) DelistPair(operatorKey string, index uint16) error {
	if err := s.authorize(operatorKey); err != nil {
		return err
	}
	pr, ok := s.pairs[index]
	if !ok {
		return ErrUnknownPair
	}
	pr.Listed = false
	return nil
}
