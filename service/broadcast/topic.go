package broadcast

import "strconv"

type TopicKind uint8

const (
	TopicProject TopicKind = iota + 1
	TopicUser
)

// Topic is a broadcast channel. It exists only while it has subscribers.
type Topic struct {
	Kind TopicKind
	ID   int64
}

func ProjectTopic(projectID int64) Topic { return Topic{Kind: TopicProject, ID: projectID} }

func UserTopic(userID int64) Topic { return Topic{Kind: TopicUser, ID: userID} }

func (t Topic) IsProject() bool { return t.Kind == TopicProject }

func (t Topic) String() string {
	switch t.Kind {
	case TopicProject:
		return "project-" + strconv.FormatInt(t.ID, 10)
	case TopicUser:
		return "user-" + strconv.FormatInt(t.ID, 10)
	default:
		return "unknown-" + strconv.FormatInt(t.ID, 10)
	}
}
