package triggers

import "fmt"

// Category classifies a registration.
type Category int

const (
	CategoryFunction Category = iota + 1
	CategoryJob
	CategoryValidator
	CategoryTrigger
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategoryFunction:
		return "Function"
	case CategoryJob:
		return "Job"
	case CategoryValidator:
		return "Validator"
	case CategoryTrigger:
		return "Trigger"
	default:
		return fmt.Sprintf("Category(%d)", int(c))
	}
}

// Phase is the lifecycle point a trigger runs at.
type Phase int

const (
	BeforeSave Phase = iota + 1
	AfterSave
	BeforeFind
	AfterFind
)

// String returns the phase name as used in hook names.
func (p Phase) String() string {
	switch p {
	case BeforeSave:
		return "beforeSave"
	case AfterSave:
		return "afterSave"
	case BeforeFind:
		return "beforeFind"
	case AfterFind:
		return "afterFind"
	default:
		return fmt.Sprintf("Phase(%d)", int(p))
	}
}

// ParsePhase returns the phase named s.
func ParsePhase(s string) (Phase, error) {
	for _, p := range []Phase{BeforeSave, AfterSave, BeforeFind, AfterFind} {
		if p.String() == s {
			return p, nil
		}
	}
	return 0, fmt.Errorf("unknown trigger phase %q", s)
}

// Key identifies one registration within a tenant. Phase and ClassName are
// set only for CategoryTrigger.
type Key struct {
	Category  Category
	Name      string
	Phase     Phase
	ClassName string
}

// FunctionKey returns the key of a cloud function.
func FunctionKey(name string) Key {
	return Key{Category: CategoryFunction, Name: name}
}

// JobKey returns the key of a job.
func JobKey(name string) Key {
	return Key{Category: CategoryJob, Name: name}
}

// ValidatorKey returns the key of the validator of a function.
func ValidatorKey(name string) Key {
	return Key{Category: CategoryValidator, Name: name}
}

// TriggerKey returns the key of a class trigger.
func TriggerKey(phase Phase, className string) Key {
	return Key{Category: CategoryTrigger, Phase: phase, ClassName: className}
}

// String renders the key in dotted form, e.g. "Trigger.beforeSave.Post".
func (k Key) String() string {
	if k.Category == CategoryTrigger {
		return fmt.Sprintf("%s.%s.%s", k.Category, k.Phase, k.ClassName)
	}
	return fmt.Sprintf("%s.%s", k.Category, k.Name)
}

func (k Key) validate() error {
	switch k.Category {
	case CategoryFunction, CategoryJob, CategoryValidator:
		if k.Name == "" {
			return fmt.Errorf("%s registration requires a name", k.Category)
		}
	case CategoryTrigger:
		if k.ClassName == "" {
			return fmt.Errorf("trigger registration requires a class name")
		}
		if _, err := ParsePhase(k.Phase.String()); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown category %d", int(k.Category))
	}
	return nil
}
