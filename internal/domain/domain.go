package domain

// Department is a flat reference list entry used for display and permissions.
type Department struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Info string `json:"info,omitempty"`
}

type Role struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Info string `json:"info,omitempty"`
}

// Project owns every genus-scoped Tag and Stage beneath it. Root is the
// filesystem location that the {project} template placeholder resolves to.
type Project struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Info      string `json:"info,omitempty"`
	Root      string `json:"root"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// Genus is the fixed production-category enumeration.
const (
	GenusAsset = "asset"
	GenusShot  = "shot"
	GenusBatch = "batch"
)

// Genuses lists the valid genus names in display order.
func Genuses() []string { return []string{GenusAsset, GenusShot, GenusBatch} }

// ValidGenus reports whether name is a member of the genus enumeration.
func ValidGenus(name string) bool {
	switch name {
	case GenusAsset, GenusShot, GenusBatch:
		return true
	}
	return false
}

// Tag is a classification axis within one genus of one project
// (e.g. CH/PR/SC for assets, episode/scene for batches).
type Tag struct {
	ID        string `json:"id"`
	ProjectID string `json:"project_id"`
	Genus     string `json:"genus" enum:"asset,shot,batch"`
	Name      string `json:"name"`
	Info      string `json:"info,omitempty"`
}

// Stage is a pipeline step. Source and Data are path templates over the
// placeholders {project} {genus} {tag} {entity} {stage}; a template with a
// trailing separator denotes a directory.
type Stage struct {
	ID        string `json:"id"`
	ProjectID string `json:"project_id"`
	Genus     string `json:"genus" enum:"asset,shot,batch"`
	Name      string `json:"name"`
	Info      string `json:"info,omitempty"`
	Source    string `json:"source"`
	Data      string `json:"data"`
}

// Entity is a concrete item of work under a Tag: a character, a prop, a shot.
type Entity struct {
	ID    string `json:"id"`
	TagID string `json:"tag_id"`
	Name  string `json:"name"`
	Info  string `json:"info,omitempty"`
	Thumb string `json:"thumb,omitempty"`
}

// Task statuses. A task is free whenever it is not assigned; assigned means
// somebody holds the checkout.
const (
	StatusInitialized = "initialized"
	StatusAssigned    = "assigned"
	StatusSubmitted   = "submitted"
	StatusApproved    = "approved"
	StatusUnapproved  = "unapproved"
	StatusExpired     = "expired"
	StatusIgnored     = "ignored"
)

// Statuses lists the status enumeration in lifecycle order.
func Statuses() []string {
	return []string{
		StatusInitialized, StatusAssigned, StatusSubmitted,
		StatusApproved, StatusUnapproved, StatusExpired, StatusIgnored,
	}
}

// ValidStatus reports whether name is a member of the status enumeration.
func ValidStatus(name string) bool {
	switch name {
	case StatusInitialized, StatusAssigned, StatusSubmitted,
		StatusApproved, StatusUnapproved, StatusExpired, StatusIgnored:
		return true
	}
	return false
}

// Task pairs exactly one Entity with exactly one Stage. Owner is the user
// holding the checkout, empty while free. Versions, when loaded, hold the
// append-only history ascending by version number.
type Task struct {
	ID        string    `json:"id"`
	EntityID  string    `json:"entity_id"`
	StageID   string    `json:"stage_id"`
	Status    string    `json:"status" enum:"initialized,assigned,submitted,approved,unapproved,expired,ignored"`
	Owner     string    `json:"owner,omitempty"`
	CreatedAt string    `json:"created_at" format:"date-time"`
	UpdatedAt string    `json:"updated_at" format:"date-time"`
	Versions  []Version `json:"versions,omitempty"`
}

// Free reports whether the task may be checked out.
func (t Task) Free() bool { return t.Owner == "" && t.Status != StatusAssigned }

// Version is one entry of a task's append-only history. Numbers are 1-based
// and contiguous; entries are never deleted.
type Version struct {
	TaskID  string `json:"task_id"`
	Version int    `json:"version"`
	TS      string `json:"ts" format:"date-time"`
	User    string `json:"user"`
	Comment string `json:"comment,omitempty"`
}

// Event is one entry of the append-only change log.
type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	ProjectID  string `json:"project_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
