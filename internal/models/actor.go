package models

type ActorKind string

const (
	ActorUser  ActorKind = "user"
	ActorBuyer ActorKind = "buyer"
	ActorAgent ActorKind = "agent"
)

// Actor identifies who issued a command. It only feeds the audit log.
type Actor struct {
	Kind ActorKind `json:"kind"`
	ID   string    `json:"id"`
}

func (a Actor) Valid() bool {
	switch a.Kind {
	case ActorUser, ActorBuyer, ActorAgent:
		return a.ID != ""
	}
	return false
}

func SystemAgent(name string) Actor {
	return Actor{Kind: ActorAgent, ID: name}
}
