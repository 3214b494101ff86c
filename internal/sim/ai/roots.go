package ai

import (
	"anvil.sim/internal/sim/catalogs"
	"anvil.sim/internal/sim/components"
)

const (
	RootIdle           = "idle"
	RootMoveToPosition = "move_to_position"
	RootGather         = "gather"
	RootBuildHouse     = "build_house"
	RootFindFood       = "find_food"
)

// Root is a named top-level tree in an agent's behavior list.
type Root struct {
	Name string
	Node Node
}

func Idle() Root { return Root{Name: RootIdle, Node: DoNothing{}} }

// MoveToPosition walks to Knowledge's destination.
func MoveToPosition() Root {
	return Root{Name: RootMoveToPosition, Node: NewDoUntil(AtDestination{}, MoveToDestination{})}
}

func gather(kind components.ResourceKind) Node {
	return NewSequence(
		FindNearest{Kind: kind},
		NewDoUntil(AtTarget{Kind: kind}, MoveToTarget{Kind: kind}),
		PickUp{Kind: kind},
	)
}

// Gather fetches one resource of kind into the inventory.
func Gather(kind components.ResourceKind) Root {
	return Root{Name: RootGather, Node: gather(kind)}
}

// BuildHouse gathers each ingredient of recipe and constructs it. Ingredients
// that are not map resources are skipped; Construct then fails on them.
func BuildHouse(recipe catalogs.RecipeDef) Root {
	children := []Node{SetRecipe{Recipe: recipe}}
	for _, ing := range recipe.Ingredients {
		kind, ok := components.ParseResourceKind(ing.ID)
		if !ok {
			continue
		}
		for i := uint32(0); i < ing.Qty; i++ {
			children = append(children, gather(kind))
		}
	}
	children = append(children, Construct{})
	return Root{Name: RootBuildHouse, Node: NewSequence(children...)}
}

func FindFood() Root {
	return Root{Name: RootFindFood, Node: NewSequence(gather(components.Food), Eat{})}
}
