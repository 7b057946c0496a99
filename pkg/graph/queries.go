// Package graph - structural queries.
//
// These are exact-match traversals: no ranking, no embeddings. Keys come
// back decoded to their plain display values.
package graph

import (
	"strings"

	"github.com/speaknode/speaknode/pkg/schema"
	"github.com/speaknode/speaknode/pkg/storage"
)

// TopicInfo is one topic with its owning scope decoded away.
type TopicInfo struct {
	Title   string `json:"title"`
	Summary string `json:"summary"`
	Scope   string `json:"scope,omitempty"`
}

// TaskInfo is one task with its assignee resolved.
type TaskInfo struct {
	Description string `json:"description"`
	Deadline    string `json:"deadline,omitempty"`
	Status      string `json:"status"`
	Assignee    string `json:"assignee,omitempty"`
	Scope       string `json:"scope,omitempty"`
}

// DecisionInfo is one decision with the topic it resulted from.
type DecisionInfo struct {
	Description string `json:"description"`
	Topic       string `json:"topic,omitempty"`
	Scope       string `json:"scope,omitempty"`
}

// PersonInfo is one participant.
type PersonInfo struct {
	Name string `json:"name"`
	Role string `json:"role,omitempty"`
}

// MeetingSummary aggregates everything attached to one meeting.
type MeetingSummary struct {
	Meeting   schema.Meeting `json:"meeting"`
	Topics    []TopicInfo    `json:"topics"`
	Decisions []DecisionInfo `json:"decisions"`
	Tasks     []TaskInfo     `json:"tasks"`
	People    []PersonInfo   `json:"people"`
}

// Meetings lists every meeting in the scope in insertion order.
func (s *Store) Meetings() ([]schema.Meeting, error) {
	nodes, err := s.engine.NodesByLabel(string(schema.KindMeeting))
	if err != nil {
		return nil, err
	}
	out := make([]schema.Meeting, 0, len(nodes))
	for _, node := range nodes {
		out = append(out, meetingFromNode(node))
	}
	return out, nil
}

// Topics lists topics, optionally filtered by a case-insensitive keyword
// over title and summary.
func (s *Store) Topics(keyword string) ([]TopicInfo, error) {
	nodes, err := s.engine.NodesByLabel(string(schema.KindTopic))
	if err != nil {
		return nil, err
	}
	keyword = strings.ToLower(strings.TrimSpace(keyword))
	out := make([]TopicInfo, 0, len(nodes))
	for _, node := range nodes {
		info := s.topicFromNode(node)
		if keyword != "" &&
			!strings.Contains(strings.ToLower(info.Title), keyword) &&
			!strings.Contains(strings.ToLower(info.Summary), keyword) {
			continue
		}
		out = append(out, info)
	}
	return out, nil
}

// Tasks lists tasks, optionally filtered by canonical status.
func (s *Store) Tasks(status string) ([]TaskInfo, error) {
	nodes, err := s.engine.NodesByLabel(string(schema.KindTask))
	if err != nil {
		return nil, err
	}
	out := make([]TaskInfo, 0, len(nodes))
	for _, node := range nodes {
		info, err := s.taskFromNode(node)
		if err != nil {
			return nil, err
		}
		if status != "" && info.Status != status {
			continue
		}
		out = append(out, info)
	}
	return out, nil
}

// People lists every participant known to the scope.
func (s *Store) People() ([]PersonInfo, error) {
	nodes, err := s.engine.NodesByLabel(string(schema.KindPerson))
	if err != nil {
		return nil, err
	}
	out := make([]PersonInfo, 0, len(nodes))
	for _, node := range nodes {
		out = append(out, PersonInfo{
			Name: propString(node, "name"),
			Role: propString(node, "role"),
		})
	}
	return out, nil
}

// Decisions lists decisions, optionally filtered by a case-insensitive
// keyword over the description.
func (s *Store) Decisions(keyword string) ([]DecisionInfo, error) {
	nodes, err := s.engine.NodesByLabel(string(schema.KindDecision))
	if err != nil {
		return nil, err
	}
	keyword = strings.ToLower(strings.TrimSpace(keyword))
	out := make([]DecisionInfo, 0, len(nodes))
	for _, node := range nodes {
		info, err := s.decisionFromNode(node)
		if err != nil {
			return nil, err
		}
		if keyword != "" && !strings.Contains(strings.ToLower(info.Description), keyword) {
			continue
		}
		out = append(out, info)
	}
	return out, nil
}

// PersonTasks lists the tasks assigned to a person by display name.
func (s *Store) PersonTasks(name string) ([]TaskInfo, error) {
	personID := nodeID(schema.KindPerson, strings.TrimSpace(name))
	edges, err := s.engine.OutgoingEdges(personID, string(schema.EdgeAssignedTo))
	if err != nil {
		return nil, err
	}
	out := make([]TaskInfo, 0, len(edges))
	for _, edge := range edges {
		node, err := s.engine.GetNode(edge.End)
		if err != nil {
			if err == storage.ErrNotFound {
				continue
			}
			return nil, err
		}
		info, err := s.taskFromNode(node)
		if err != nil {
			return nil, err
		}
		out = append(out, info)
	}
	return out, nil
}

// TopicDecisions lists the decisions a topic resulted in. The title may
// be plain or scope-qualified.
func (s *Store) TopicDecisions(title string) ([]DecisionInfo, error) {
	topic, err := s.resolveNode(schema.KindTopic, title)
	if err != nil {
		return nil, err
	}
	if topic == nil {
		return nil, nil
	}
	edges, err := s.engine.OutgoingEdges(topic.ID, string(schema.EdgeResultedIn))
	if err != nil {
		return nil, err
	}
	out := make([]DecisionInfo, 0, len(edges))
	for _, edge := range edges {
		node, err := s.engine.GetNode(edge.End)
		if err != nil {
			return nil, err
		}
		info, err := s.decisionFromNode(node)
		if err != nil {
			return nil, err
		}
		out = append(out, info)
	}
	return out, nil
}

// Summary aggregates one meeting's topics, decisions, tasks and people.
//
// Stores written before HAS_TASK/HAS_DECISION existed carry none of those
// edges; the same logical sets are then reconstructed through older edge
// kinds (DISCUSSED then RESULTED_IN for decisions, CONTAINS then SPOKE
// then ASSIGNED_TO for tasks).
func (s *Store) Summary(meetingID string) (*MeetingSummary, error) {
	meetingNode, err := s.engine.GetNode(nodeID(schema.KindMeeting, meetingID))
	if err != nil {
		if err == storage.ErrNotFound {
			return nil, nil
		}
		return nil, err
	}
	summary := &MeetingSummary{Meeting: meetingFromNode(meetingNode)}

	discussed, err := s.engine.OutgoingEdges(meetingNode.ID, string(schema.EdgeDiscussed))
	if err != nil {
		return nil, err
	}
	topicIDs := make([]storage.NodeID, 0, len(discussed))
	for _, edge := range discussed {
		node, err := s.engine.GetNode(edge.End)
		if err != nil {
			return nil, err
		}
		summary.Topics = append(summary.Topics, s.topicFromNode(node))
		topicIDs = append(topicIDs, node.ID)
	}

	decisions, err := s.meetingDecisions(meetingNode.ID, topicIDs)
	if err != nil {
		return nil, err
	}
	summary.Decisions = decisions

	tasks, err := s.meetingTasks(meetingNode.ID)
	if err != nil {
		return nil, err
	}
	summary.Tasks = tasks

	people, err := s.meetingPeople(meetingNode.ID)
	if err != nil {
		return nil, err
	}
	summary.People = people
	return summary, nil
}

func (s *Store) meetingDecisions(meetingID storage.NodeID, topicIDs []storage.NodeID) ([]DecisionInfo, error) {
	edges, err := s.engine.OutgoingEdges(meetingID, string(schema.EdgeHasDecision))
	if err != nil {
		return nil, err
	}
	var decisionIDs []storage.NodeID
	for _, edge := range edges {
		decisionIDs = append(decisionIDs, edge.End)
	}
	if len(decisionIDs) == 0 {
		// Legacy store without HAS_DECISION: follow the topics instead.
		for _, topicID := range topicIDs {
			resulted, err := s.engine.OutgoingEdges(topicID, string(schema.EdgeResultedIn))
			if err != nil {
				return nil, err
			}
			for _, edge := range resulted {
				decisionIDs = append(decisionIDs, edge.End)
			}
		}
	}
	out := make([]DecisionInfo, 0, len(decisionIDs))
	for _, id := range decisionIDs {
		node, err := s.engine.GetNode(id)
		if err != nil {
			return nil, err
		}
		info, err := s.decisionFromNode(node)
		if err != nil {
			return nil, err
		}
		out = append(out, info)
	}
	return out, nil
}

func (s *Store) meetingTasks(meetingID storage.NodeID) ([]TaskInfo, error) {
	edges, err := s.engine.OutgoingEdges(meetingID, string(schema.EdgeHasTask))
	if err != nil {
		return nil, err
	}
	taskIDs := make(map[storage.NodeID]struct{})
	var ordered []storage.NodeID
	for _, edge := range edges {
		taskIDs[edge.End] = struct{}{}
		ordered = append(ordered, edge.End)
	}
	if len(ordered) == 0 {
		// Legacy store without HAS_TASK: reach tasks through the people
		// who spoke in this meeting.
		contains, err := s.engine.OutgoingEdges(meetingID, string(schema.EdgeContains))
		if err != nil {
			return nil, err
		}
		for _, edge := range contains {
			spoke, err := s.engine.IncomingEdges(edge.End, string(schema.EdgeSpoke))
			if err != nil {
				return nil, err
			}
			for _, se := range spoke {
				assigned, err := s.engine.OutgoingEdges(se.Start, string(schema.EdgeAssignedTo))
				if err != nil {
					return nil, err
				}
				for _, ae := range assigned {
					if _, seen := taskIDs[ae.End]; seen {
						continue
					}
					taskIDs[ae.End] = struct{}{}
					ordered = append(ordered, ae.End)
				}
			}
		}
	}
	out := make([]TaskInfo, 0, len(ordered))
	for _, id := range ordered {
		node, err := s.engine.GetNode(id)
		if err != nil {
			return nil, err
		}
		info, err := s.taskFromNode(node)
		if err != nil {
			return nil, err
		}
		out = append(out, info)
	}
	return out, nil
}

func (s *Store) meetingPeople(meetingID storage.NodeID) ([]PersonInfo, error) {
	contains, err := s.engine.OutgoingEdges(meetingID, string(schema.EdgeContains))
	if err != nil {
		return nil, err
	}
	seen := make(map[storage.NodeID]struct{})
	var out []PersonInfo
	for _, edge := range contains {
		spoke, err := s.engine.IncomingEdges(edge.End, string(schema.EdgeSpoke))
		if err != nil {
			return nil, err
		}
		for _, se := range spoke {
			if _, ok := seen[se.Start]; ok {
				continue
			}
			seen[se.Start] = struct{}{}
			person, err := s.engine.GetNode(se.Start)
			if err != nil {
				return nil, err
			}
			out = append(out, PersonInfo{
				Name: propString(person, "name"),
				Role: propString(person, "role"),
			})
		}
	}
	return out, nil
}

func meetingFromNode(node *storage.Node) schema.Meeting {
	return schema.Meeting{
		ID:         propString(node, "id"),
		Title:      propString(node, "title"),
		Date:       propString(node, "date"),
		SourceFile: propString(node, "source_file"),
	}
}

func (s *Store) topicFromNode(node *storage.Node) TopicInfo {
	key := propString(node, "title")
	return TopicInfo{
		Title:   s.scoper.Plain(key),
		Summary: propString(node, "summary"),
		Scope:   s.scoper.Scope(key),
	}
}

func (s *Store) taskFromNode(node *storage.Node) (TaskInfo, error) {
	key := propString(node, "description")
	info := TaskInfo{
		Description: s.scoper.Plain(key),
		Deadline:    propString(node, "deadline"),
		Status:      propString(node, "status"),
		Scope:       s.scoper.Scope(key),
	}
	assigned, err := s.engine.IncomingEdges(node.ID, string(schema.EdgeAssignedTo))
	if err != nil {
		return info, err
	}
	if len(assigned) > 0 {
		person, err := s.engine.GetNode(assigned[0].Start)
		if err != nil {
			return info, err
		}
		info.Assignee = propString(person, "name")
	}
	return info, nil
}

func (s *Store) decisionFromNode(node *storage.Node) (DecisionInfo, error) {
	key := propString(node, "description")
	info := DecisionInfo{
		Description: s.scoper.Plain(key),
		Scope:       s.scoper.Scope(key),
	}
	resulted, err := s.engine.IncomingEdges(node.ID, string(schema.EdgeResultedIn))
	if err != nil {
		return info, err
	}
	if len(resulted) > 0 {
		topic, err := s.engine.GetNode(resulted[0].Start)
		if err != nil {
			return info, err
		}
		info.Topic = s.scoper.Plain(propString(topic, "title"))
	}
	return info, nil
}
