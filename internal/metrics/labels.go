package metrics

import "github.com/normanking/avatarchat/internal/gate"

func phaseLabel(s string) string {
	if gate.ConnectionPhase(s).Known() {
		return s
	}
	return otherLabel
}

func chatLabel(s string) string {
	if gate.ChatType(s).Known() {
		return s
	}
	return otherLabel
}
