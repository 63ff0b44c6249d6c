package stage

import "fmt"

// ReleaseState tracks one release unit through the release runner.
type ReleaseState int

const (
	Pending ReleaseState = iota
	FetchingName
	Building
	CopyingFromImage
	Done
	Failed
)

var releaseStateNames = map[ReleaseState]string{
	Pending:          "pending",
	FetchingName:     "fetching-name",
	Building:         "building",
	CopyingFromImage: "copying-from-image",
	Done:             "done",
	Failed:           "failed",
}

func (s ReleaseState) String() string {
	if name, ok := releaseStateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("release-state(%d)", int(s))
}

func (s ReleaseState) Terminal() bool {
	return s == Done || s == Failed
}

// Advance validates a transition. Failed is reachable from any non-terminal
// state; binary releases skip straight from pending to copying-from-image.
func (s ReleaseState) Advance(to ReleaseState) (ReleaseState, error) {
	if s.Terminal() {
		return s, fmt.Errorf("release is already %s", s)
	}
	if to == Failed {
		return to, nil
	}

	allowed := map[ReleaseState]ReleaseState{
		Pending:          FetchingName,
		FetchingName:     Building,
		Building:         Done,
		CopyingFromImage: Done,
	}
	if next, ok := allowed[s]; ok && next == to {
		return to, nil
	}
	if s == Pending && to == CopyingFromImage {
		return to, nil
	}
	return s, fmt.Errorf("invalid release transition %s -> %s", s, to)
}
