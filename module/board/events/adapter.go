package events

import (
	"fmt"

	"PBoard/module/board/model"
	"PBoard/tools/decode"
	"PBoard/tools/errs"

	"go.uber.org/zap"
)

// Event kinds as seen by clients.
const (
	KindProjectCreated      = "project:created"
	KindProjectFinished     = "project:finished"
	KindTaskCreated         = "task:created"
	KindTaskUpdated         = "task:updated"
	KindCommentCreated      = "comment:created"
	KindMessageCreated      = "message:created"
	KindCollaboratorAdded   = "collaborator:added"
	KindCollaboratorUpdated = "collaborator:updated"
	KindCollaboratorRemoved = "collaborator:removed"
	KindNotification        = "notification"
)

// Publisher delivers to project and user topics.
type Publisher interface {
	PublishProject(projectID int64, kind string, payload any) int
	PublishUser(userID int64, kind string, payload any) int
}

// Evictor drops a user's live project memberships.
type Evictor interface {
	EvictUser(userID, projectID int64) int
}

// Relay forwards a locally committed mutation to the other nodes.
type Relay interface {
	Relay(kind string, projectID int64, record any)
}

// Adapter turns committed mutations into events. Call it only after the
// write succeeded; it never reports delivery failures.
type Adapter struct {
	pub   Publisher
	evict Evictor
	relay Relay
	log   *zap.Logger
}

func NewAdapter(pub Publisher, evict Evictor, log *zap.Logger) *Adapter {
	if log == nil {
		log = zap.NewNop()
	}
	return &Adapter{pub: pub, evict: evict, log: log}
}

// WithRelay returns a copy that also hands every typed mutation to r.
// Mutations arriving through Notify are never relayed again.
func (a *Adapter) WithRelay(r Relay) *Adapter {
	cp := *a
	cp.relay = r
	return &cp
}

func (a *Adapter) forward(kind string, projectID int64, record any) {
	if a.relay != nil {
		a.relay.Relay(kind, projectID, record)
	}
}

type collaboratorRecord struct {
	*model.Collaborator
	Notification *model.Notification `json:"notification,omitempty"`
}

// ProjectCreated is visible only to the owner until others are added.
func (a *Adapter) ProjectCreated(p *model.Project) {
	a.pub.PublishUser(p.Owner, KindProjectCreated, p)
	a.forward(KindProjectCreated, p.ID, p)
}

func (a *Adapter) ProjectFinished(p *model.Project) {
	a.pub.PublishProject(p.ID, KindProjectFinished, p)
	a.forward(KindProjectFinished, p.ID, p)
}

func (a *Adapter) TaskCreated(t *model.Task) {
	a.pub.PublishProject(t.ProjectID, KindTaskCreated, t)
	a.forward(KindTaskCreated, t.ProjectID, t)
}

func (a *Adapter) TaskUpdated(t *model.Task) {
	a.pub.PublishProject(t.ProjectID, KindTaskUpdated, t)
	a.forward(KindTaskUpdated, t.ProjectID, t)
}

// CommentCreated routes by the parent task's project.
func (a *Adapter) CommentCreated(projectID int64, c *model.Comment) {
	a.pub.PublishProject(projectID, KindCommentCreated, c)
	if a.relay != nil {
		withProject := *c
		withProject.ProjectID = projectID
		a.forward(KindCommentCreated, projectID, &withProject)
	}
}

func (a *Adapter) MessageCreated(m *model.Message) {
	a.pub.PublishProject(m.ProjectID, KindMessageCreated, m)
	a.forward(KindMessageCreated, m.ProjectID, m)
}

func (a *Adapter) CollaboratorAdded(c *model.Collaborator, n *model.Notification) {
	a.collaboratorChanged(KindCollaboratorAdded, c, n)
}

func (a *Adapter) CollaboratorUpdated(c *model.Collaborator, n *model.Notification) {
	a.collaboratorChanged(KindCollaboratorUpdated, c, n)
}

// CollaboratorRemoved also evicts the removed user's connections from the
// project topic once the events are out.
func (a *Adapter) CollaboratorRemoved(c *model.Collaborator, n *model.Notification) {
	a.collaboratorChanged(KindCollaboratorRemoved, c, n)
	if a.evict != nil {
		if evicted := a.evict.EvictUser(c.UserID, c.ProjectID); evicted > 0 {
			a.log.Debug("evicted removed collaborator",
				zap.Int64("user_id", c.UserID), zap.Int64("project_id", c.ProjectID), zap.Int("conns", evicted))
		}
	}
}

func (a *Adapter) collaboratorChanged(kind string, c *model.Collaborator, n *model.Notification) {
	a.pub.PublishProject(c.ProjectID, kind, c)
	if n == nil {
		n = &model.Notification{UserID: c.UserID, ProjectID: c.ProjectID, Body: NoteFor(kind, c)}
	}
	a.pub.PublishUser(c.UserID, KindNotification, n)
	a.forward(kind, c.ProjectID, collaboratorRecord{Collaborator: c, Notification: n})
}

// NoteFor is the notification text stored for a collaborator change.
func NoteFor(kind string, c *model.Collaborator) string {
	switch kind {
	case KindCollaboratorAdded:
		return fmt.Sprintf("You were added to project %d", c.ProjectID)
	case KindCollaboratorUpdated:
		return fmt.Sprintf("Your role was changed to %s on project %d", c.Role, c.ProjectID)
	case KindCollaboratorRemoved:
		return fmt.Sprintf("You were removed from project %d", c.ProjectID)
	default:
		return ""
	}
}

// Notify is the untyped entry point used by out-of-process writers. kind is
// one of the event kinds above except notification; record holds the
// committed row's fields.
func (a *Adapter) Notify(kind string, record map[string]any) error {
	if record == nil {
		return errs.ErrArgs.WrapMsg("record is nil", "kind", kind)
	}
	if a.relay != nil {
		local := *a
		local.relay = nil
		a = &local
	}

	switch kind {
	case KindProjectCreated, KindProjectFinished:
		p, err := decodeRecord[model.Project](kind, record)
		if err != nil {
			return err
		}
		if p.ID <= 0 || (kind == KindProjectCreated && p.Owner <= 0) {
			return errs.ErrArgs.WrapMsg("project record needs id and owner", "kind", kind)
		}
		if kind == KindProjectCreated {
			a.ProjectCreated(p)
		} else {
			a.ProjectFinished(p)
		}

	case KindTaskCreated, KindTaskUpdated:
		t, err := decodeRecord[model.Task](kind, record)
		if err != nil {
			return err
		}
		if t.ProjectID <= 0 {
			return errs.ErrArgs.WrapMsg("task record needs project_id", "kind", kind)
		}
		if kind == KindTaskCreated {
			a.TaskCreated(t)
		} else {
			a.TaskUpdated(t)
		}

	case KindCommentCreated:
		c, err := decodeRecord[model.Comment](kind, record)
		if err != nil {
			return err
		}
		if c.ProjectID <= 0 {
			return errs.ErrArgs.WrapMsg("comment record needs the task's project_id", "kind", kind)
		}
		a.CommentCreated(c.ProjectID, c)

	case KindMessageCreated:
		m, err := decodeRecord[model.Message](kind, record)
		if err != nil {
			return err
		}
		if m.ProjectID <= 0 {
			return errs.ErrArgs.WrapMsg("message record needs project_id", "kind", kind)
		}
		a.MessageCreated(m)

	case KindCollaboratorAdded, KindCollaboratorUpdated, KindCollaboratorRemoved:
		c, err := decodeRecord[model.Collaborator](kind, record)
		if err != nil {
			return err
		}
		if c.ProjectID <= 0 || c.UserID <= 0 {
			return errs.ErrArgs.WrapMsg("collaborator record needs project_id and user_id", "kind", kind)
		}
		var n *model.Notification
		if raw, ok := decode.ReadMap(record, "notification"); ok {
			if n, err = decodeRecord[model.Notification](kind, raw); err != nil {
				return err
			}
			n.UserID, n.ProjectID = c.UserID, c.ProjectID
		}
		switch kind {
		case KindCollaboratorAdded:
			a.CollaboratorAdded(c, n)
		case KindCollaboratorUpdated:
			a.CollaboratorUpdated(c, n)
		default:
			a.CollaboratorRemoved(c, n)
		}

	default:
		return errs.ErrUnknownMessage.WrapMsg("unknown mutation kind", "kind", kind)
	}
	return nil
}

func decodeRecord[T any](kind string, record map[string]any) (*T, error) {
	out, err := decode.DecodeMap[T](record)
	if err != nil {
		return nil, errs.ErrArgs.WrapMsg(err.Error(), "kind", kind)
	}
	return out, nil
}
