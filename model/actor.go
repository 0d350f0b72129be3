package model

import "fmt"

// Actor identifies one of the five letter bodies in the scene.
type Actor uint8

// Tag values stored in a dynamic body's user data. Zero means untagged.
const (
	ActorNone Actor = iota
	ActorA
	ActorL
	ActorI
	ActorV
	ActorE
)

// Actors lists every actor in canonical order. Pose output, impulse
// scheduling and registry scans all follow this order.
var Actors = [...]Actor{ActorA, ActorL, ActorI, ActorV, ActorE}

// ActorCount is the number of tagged actors in a scene.
const ActorCount = len(Actors)

// Tag returns the user-data value that marks the actor's dynamic body.
func (a Actor) Tag() uint64 { return uint64(a) }

// Index returns the actor's position in canonical order, or -1 for an
// unknown actor.
func (a Actor) Index() int {
	if !a.Valid() {
		return -1
	}
	return int(a) - 1
}

// Valid reports whether a names one of the five actors.
func (a Actor) Valid() bool { return a >= ActorA && a <= ActorE }

func (a Actor) String() string {
	switch a {
	case ActorA:
		return "A"
	case ActorL:
		return "L"
	case ActorI:
		return "I"
	case ActorV:
		return "V"
	case ActorE:
		return "E"
	default:
		return fmt.Sprintf("Actor(%d)", uint8(a))
	}
}

// ActorFromTag maps a body's user data back to an actor.
func ActorFromTag(tag uint64) (Actor, bool) {
	a := Actor(tag)
	if tag > uint64(ActorE) || !a.Valid() {
		return ActorNone, false
	}
	return a, true
}

// ParseActor resolves a single-letter actor name.
func ParseActor(s string) (Actor, error) {
	for _, a := range Actors {
		if a.String() == s {
			return a, nil
		}
	}
	return ActorNone, fmt.Errorf("unknown actor %q", s)
}
