package store

import (
	"context"

	"PBoard/module/board/model"
)

// Store is the persistence surface used by the write path and the hub's
// authorizer. Not-found lookups return errs.ErrRecordNotFound; unique
// violations return errs.ErrRecordExist.
type Store interface {
	// Users
	CreateUser(ctx context.Context, username, passwordHash string) (*model.User, error)
	GetUser(ctx context.Context, id int64) (*model.User, error)
	GetUserByUsername(ctx context.Context, username string) (*model.User, error)

	// Projects
	CreateProject(ctx context.Context, name string, ownerID int64) (*model.Project, error)
	GetProject(ctx context.Context, id int64) (*model.Project, error)
	ListProjectsForUser(ctx context.Context, userID int64) ([]model.Project, error)
	FinishProject(ctx context.Context, id int64) (*model.Project, error)

	// Tasks
	CreateTask(ctx context.Context, t *model.Task) (*model.Task, error)
	GetTask(ctx context.Context, id int64) (*model.Task, error)
	ListTasks(ctx context.Context, projectID int64) ([]model.Task, error)
	UpdateTask(ctx context.Context, id int64, patch model.TaskPatch) (*model.Task, error)

	// Comments and chat
	CreateComment(ctx context.Context, taskID int64, author, body string) (*model.Comment, error)
	ListComments(ctx context.Context, taskID int64) ([]model.Comment, error)
	CreateMessage(ctx context.Context, projectID int64, author, body string) (*model.Message, error)
	ListMessages(ctx context.Context, projectID int64) ([]model.Message, error)

	// Collaborators; every change also stores a notification for the
	// affected user in the same transaction.
	AddCollaborator(ctx context.Context, projectID, userID int64, role, note string) (*model.Collaborator, *model.Notification, error)
	UpdateCollaboratorRole(ctx context.Context, projectID, userID int64, role, note string) (*model.Collaborator, *model.Notification, error)
	RemoveCollaborator(ctx context.Context, projectID, userID int64, note string) (*model.Collaborator, *model.Notification, error)
	GetCollaborator(ctx context.Context, projectID, userID int64) (*model.Collaborator, error)
	ListCollaborators(ctx context.Context, projectID int64) ([]model.Collaborator, error)
	IsProjectCollaborator(ctx context.Context, userID, projectID int64) (bool, error)

	// Notifications
	ListNotifications(ctx context.Context, userID int64) ([]model.Notification, error)
	MarkNotificationRead(ctx context.Context, id, userID int64) error

	Ping(ctx context.Context) error
	Close() error
}
