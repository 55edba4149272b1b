// mrtchat - peer-to-peer chat substrate
// Copyright (C) 2025 sage-x-project
//
// This file is part of mrtchat.
//
// mrtchat is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// mrtchat is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with mrtchat. If not, see <https://www.gnu.org/licenses/>.

package trust

import "fmt"

// Action is what to *do* about a peer of a given category.
type Action string

const (
	ActionReject           Action = "reject"
	ActionPromptAndTrust   Action = "promptAndTrust"
	ActionConnectAndPrompt Action = "connectAndPrompt"
	ActionConnectAndTrust  Action = "connectAndTrust"
)

// Policy maps every category to an action. Construction fails unless
// the matrix is total over all categories.
type Policy struct {
	mode    string
	actions map[Category]Action
}

// NewPolicy validates totality and wraps the matrix.
func NewPolicy(mode string, actions map[Category]Action) (Policy, error) {
	for _, c := range Categories {
		if _, ok := actions[c]; !ok {
			return Policy{}, fmt.Errorf("trust policy %q: no action for category %q", mode, c)
		}
	}
	return Policy{mode: mode, actions: actions}, nil
}

// Mode returns the policy's mode name.
func (p Policy) Mode() string { return p.mode }

// ActionFor returns the action for category.
func (p Policy) ActionFor(c Category) Action { return p.actions[c] }

// ModeNames lists the built-in policy modes.
var ModeNames = []string{
	"strict", "strictandquiet",
	"moderate", "moderateandquiet",
	"lax", "unsafe", "rejectall", "alwaysprompt",
}

// PolicyForMode returns one of the built-in policy matrices.
func PolicyForMode(mode string) (Policy, error) {
	switch mode {
	case "strict":
		return NewPolicy(mode, map[Category]Action{
			TheOneAndOnly:         ActionConnectAndTrust,
			KnownWithKnownAliases: ActionConnectAndPrompt,
			PossibleNameChange:    ActionPromptAndTrust,
			PossibleSharedPubKey:  ActionPromptAndTrust,
			NameSwapCollision:     ActionPromptAndTrust,
			Pretender:             ActionPromptAndTrust,
			NeverMet:              ActionPromptAndTrust,
		})
	case "strictandquiet":
		return NewPolicy(mode, map[Category]Action{
			TheOneAndOnly:         ActionConnectAndTrust,
			KnownWithKnownAliases: ActionReject,
			PossibleNameChange:    ActionReject,
			PossibleSharedPubKey:  ActionReject,
			NameSwapCollision:     ActionReject,
			Pretender:             ActionReject,
			NeverMet:              ActionConnectAndTrust,
		})
	case "moderate":
		return NewPolicy(mode, map[Category]Action{
			TheOneAndOnly:         ActionConnectAndTrust,
			KnownWithKnownAliases: ActionConnectAndTrust,
			PossibleNameChange:    ActionConnectAndPrompt,
			PossibleSharedPubKey:  ActionConnectAndPrompt,
			NameSwapCollision:     ActionPromptAndTrust,
			Pretender:             ActionPromptAndTrust,
			NeverMet:              ActionConnectAndPrompt,
		})
	case "moderateandquiet":
		return NewPolicy(mode, map[Category]Action{
			TheOneAndOnly:         ActionConnectAndTrust,
			KnownWithKnownAliases: ActionConnectAndTrust,
			PossibleNameChange:    ActionConnectAndTrust,
			PossibleSharedPubKey:  ActionReject,
			NameSwapCollision:     ActionReject,
			Pretender:             ActionReject,
			NeverMet:              ActionConnectAndTrust,
		})
	case "lax":
		return NewPolicy(mode, map[Category]Action{
			TheOneAndOnly:         ActionConnectAndTrust,
			KnownWithKnownAliases: ActionConnectAndTrust,
			PossibleNameChange:    ActionConnectAndTrust,
			PossibleSharedPubKey:  ActionConnectAndTrust,
			NameSwapCollision:     ActionConnectAndPrompt,
			Pretender:             ActionConnectAndPrompt,
			NeverMet:              ActionConnectAndTrust,
		})
	case "unsafe":
		return NewPolicy(mode, map[Category]Action{
			TheOneAndOnly:         ActionConnectAndTrust,
			KnownWithKnownAliases: ActionConnectAndTrust,
			PossibleNameChange:    ActionConnectAndTrust,
			PossibleSharedPubKey:  ActionConnectAndTrust,
			NameSwapCollision:     ActionConnectAndTrust,
			Pretender:             ActionConnectAndTrust,
			NeverMet:              ActionConnectAndTrust,
		})
	case "rejectall":
		return NewPolicy(mode, map[Category]Action{
			TheOneAndOnly:         ActionReject,
			KnownWithKnownAliases: ActionReject,
			PossibleNameChange:    ActionReject,
			PossibleSharedPubKey:  ActionReject,
			NameSwapCollision:     ActionReject,
			Pretender:             ActionReject,
			NeverMet:              ActionReject,
		})
	case "alwaysprompt":
		return NewPolicy(mode, map[Category]Action{
			TheOneAndOnly:         ActionPromptAndTrust,
			KnownWithKnownAliases: ActionPromptAndTrust,
			PossibleNameChange:    ActionPromptAndTrust,
			PossibleSharedPubKey:  ActionPromptAndTrust,
			NameSwapCollision:     ActionPromptAndTrust,
			Pretender:             ActionPromptAndTrust,
			NeverMet:              ActionPromptAndTrust,
		})
	default:
		return Policy{}, fmt.Errorf("unknown trust mode %q", mode)
	}
}
