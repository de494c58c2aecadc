package session

// legalTransitions lists, per source state, every state it may move to.
var legalTransitions = map[Status][]Status{
	StatusIdle:                   {StatusAnalyzing, StatusError},
	StatusAnalyzing:              {StatusPlanning, StatusError},
	StatusPlanning:               {StatusReviewPending, StatusClarificationRequested, StatusExecuting, StatusCompleted, StatusError},
	StatusReviewPending:          {StatusPlanning, StatusExecuting, StatusCompleted, StatusError},
	StatusClarificationRequested: {StatusPlanning, StatusError},
	StatusExecuting:              {StatusCompleted, StatusError},
	StatusCompleted:              {StatusError},
	StatusError:                  {StatusAnalyzing},
}

// CanTransition reports whether from -> to is a legal edge.
func CanTransition(from, to Status) bool {
	for _, s := range legalTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// TransitionTo moves the session to a new status. Writing the current status again
// is not a transition and always succeeds. Illegal edges leave the session untouched.
func (s *ResearchSession) TransitionTo(to Status) error {
	if s.Status == to {
		s.Touch()
		return nil
	}
	if !CanTransition(s.Status, to) {
		return &IllegalTransitionError{From: s.Status, To: to}
	}
	s.Status = to
	if to != StatusError {
		s.Error = ""
	}
	s.Touch()
	return nil
}

// Fail moves the session to error and records the message. Every state may fail.
func (s *ResearchSession) Fail(err error) {
	if err == nil {
		return
	}
	_ = s.TransitionTo(StatusError)
	s.Error = err.Error()
}
