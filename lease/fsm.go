package lease

import (
	"reflect"

	"golang.org/x/xerrors"
)

var fsmPlanners = map[State]func(evt Event, l *Lease) error{
	StateProposed: planOne(
		on(Accepted{}, StateActive),
		on(Rejected{}, StateRejected),
	),
	StateActive: planOne(
		on(ChallengeIssued{}, StateChallenged),
		on(Retrieved{}, StateRetrieved),
		on(Expired{}, StateExpired),
	),
	StateChallenged: planOne(
		on(ChallengePassed{}, StateActive),
		on(ChallengeFailed{}, StateBreached),
		on(Expired{}, StateExpired),
	),

	StateRejected:  final,
	StateRetrieved: final,
	StateBreached:  final,
	StateExpired:   final,
}

/*

	Proposed --> Rejected
	   |
	   v
	Active <--> Challenged --> Breached
	   |             |
	   |             v
	   +---------> Expired
	   |
	   v
	Retrieved

*/

// plan applies evt to l if the current state allows it.
func plan(evt Event, l *Lease) error {
	p, ok := fsmPlanners[l.State]
	if !ok {
		return xerrors.Errorf("planner for state %q not found", l.State)
	}

	if err := p(evt, l); err != nil {
		return xerrors.Errorf("running planner for state %s failed: %w", l.State, err)
	}
	return nil
}

func final(evt Event, l *Lease) error {
	return xerrors.Errorf("didn't expect any events in state %s, got %T: %w", l.State, evt, ErrInvalidTransition)
}

func on(evt Event, next State) func() (Event, State) {
	return func() (Event, State) {
		return evt, next
	}
}

func planOne(ts ...func() (evt Event, next State)) func(evt Event, l *Lease) error {
	return func(evt Event, l *Lease) error {
		for _, t := range ts {
			mut, next := t()

			if reflect.TypeOf(evt) != reflect.TypeOf(mut) {
				continue
			}

			if g, ok := evt.(guard); ok {
				if err := g.check(l); err != nil {
					return err
				}
			}

			evt.apply(l)
			l.State = next
			return nil
		}

		return xerrors.Errorf("planner for state %s received unexpected event %T: %w", l.State, evt, ErrInvalidTransition)
	}
}
