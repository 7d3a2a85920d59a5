package surface

import "strings"

// Material is a host block id, e.g. "DETECTOR_RAIL".
type Material string

const (
	MaterialAir           Material = "AIR"
	MaterialRail          Material = "RAIL"
	MaterialPoweredRail   Material = "POWERED_RAIL"
	MaterialDetectorRail  Material = "DETECTOR_RAIL"
	MaterialActivatorRail Material = "ACTIVATOR_RAIL"
)

type Type uint8

const (
	TypeOther Type = iota
	TypeRail
	TypePoweredRail
	TypeDetectorRail
	TypeActivatorRail
)

func (t Type) String() string {
	switch t {
	case TypeRail:
		return "rail"
	case TypePoweredRail:
		return "powered_rail"
	case TypeDetectorRail:
		return "detector_rail"
	case TypeActivatorRail:
		return "activator_rail"
	default:
		return "other"
	}
}

// Normalize upper-cases a material id and strips the "minecraft:" namespace.
func Normalize(m Material) Material {
	s := strings.ToUpper(strings.TrimSpace(string(m)))
	s = strings.TrimPrefix(s, "MINECRAFT:")
	return Material(s)
}

func Classify(m Material) Type {
	switch Normalize(m) {
	case MaterialRail:
		return TypeRail
	case MaterialPoweredRail:
		return TypePoweredRail
	case MaterialDetectorRail:
		return TypeDetectorRail
	case MaterialActivatorRail:
		return TypeActivatorRail
	default:
		return TypeOther
	}
}

// IsTriggerSurface reports whether right-clicking m may start the mount flow.
func IsTriggerSurface(m Material) bool {
	return Classify(m) != TypeOther
}
