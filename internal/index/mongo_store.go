package index

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cuongbtq/jobstatus/internal/domain"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsontype"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Collection names shared with the portal
const (
	ExperimentsCollection = "Experiments"
	ProjectsCollection    = "Projects"
)

// Legacy values of the trashed field written before trash timestamps existed
const (
	legacyTrashed    = "yes"
	legacyNotTrashed = "no"
)

type experimentDoc struct {
	ID           primitive.ObjectID `bson:"_id,omitempty"`
	AggrNickname string             `bson:"aggr_nickname"`
	User         string             `bson:"user"`
	Nickname     string             `bson:"nickname"`
	Project      string             `bson:"project"`
	Modality     string             `bson:"modality"`
	Tool         string             `bson:"tool"`
	ContactEmail string             `bson:"contact_email"`
	CreatedAt    time.Time          `bson:"created_at"`
	Trashed      bson.RawValue      `bson:"trashed"`
	Removed      int                `bson:"removed"`
}

type jobRefDoc struct {
	AggrNickname string `bson:"aggr_nickname"`
	Type         string `bson:"type"`
	Modality     string `bson:"modality"`
}

type projectDoc struct {
	ID             primitive.ObjectID `bson:"_id,omitempty"`
	ProjectName    string             `bson:"project_name"`
	User           string             `bson:"user"`
	Description    string             `bson:"description"`
	Experiments    []jobRefDoc        `bson:"experiments"`
	NumExperiments int                `bson:"num_experiments"`
	CreatedAt      time.Time          `bson:"created_at"`
}

// MongoStore keeps the index in the portal's MongoDB collections
type MongoStore struct {
	experiments *mongo.Collection
	projects    *mongo.Collection
}

var _ Store = (*MongoStore)(nil)

// NewMongoStore creates a store over db
func NewMongoStore(db *mongo.Database) *MongoStore {
	return &MongoStore{
		experiments: db.Collection(ExperimentsCollection),
		projects:    db.Collection(ProjectsCollection),
	}
}

// EnsureIndexes creates the unique lookup indexes used by the store
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.experiments.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "aggr_nickname", Value: 1}, {Key: "user", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "created_at", Value: -1}},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create experiment indexes: %w", err)
	}

	_, err = s.projects.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "project_name", Value: 1}, {Key: "user", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("failed to create project indexes: %w", err)
	}
	return nil
}

// trashValue encodes a trash marker the way the portal stores it
func trashValue(state domain.TrashState) interface{} {
	switch {
	case !state.At.IsZero():
		return state.At.UTC()
	case state.Legacy:
		return legacyTrashed
	}
	return legacyNotTrashed
}

// decodeTrash reads the trashed field, which holds a datetime, "yes", "no" or nothing
func decodeTrash(v bson.RawValue) domain.TrashState {
	switch v.Type {
	case bsontype.DateTime:
		return domain.TrashState{At: v.Time().UTC()}
	case bsontype.String:
		if v.StringValue() == legacyTrashed {
			return domain.TrashState{Legacy: true}
		}
	}
	return domain.TrashState{}
}

func (d *experimentDoc) toDomain() *domain.Experiment {
	return &domain.Experiment{
		JobName:      d.AggrNickname,
		User:         d.User,
		Nickname:     d.Nickname,
		Project:      d.Project,
		Modality:     d.Modality,
		Tool:         d.Tool,
		ContactEmail: d.ContactEmail,
		CreatedAt:    d.CreatedAt.UTC(),
		Trashed:      decodeTrash(d.Trashed),
		Removed:      d.Removed != 0,
	}
}

func (d *projectDoc) toDomain() *domain.Project {
	p := &domain.Project{
		Name:           d.ProjectName,
		User:           d.User,
		Description:    d.Description,
		NumExperiments: d.NumExperiments,
		CreatedAt:      d.CreatedAt,
	}
	for _, ref := range d.Experiments {
		p.Jobs = append(p.Jobs, domain.JobRef{
			JobName:   ref.AggrNickname,
			ShareType: ref.Type,
			Modality:  ref.Modality,
		})
	}
	return p
}

func experimentFilter(user, jobName string) bson.M {
	return bson.M{"aggr_nickname": jobName, "user": user}
}

func projectFilter(user, name string) bson.M {
	return bson.M{"project_name": name, "user": user}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func (s *MongoStore) InsertExperiment(ctx context.Context, exp *domain.Experiment) error {
	_, err := s.experiments.InsertOne(ctx, bson.M{
		"aggr_nickname": exp.JobName,
		"user":          exp.User,
		"nickname":      exp.Nickname,
		"project":       exp.Project,
		"modality":      exp.Modality,
		"tool":          exp.Tool,
		"contact_email": exp.ContactEmail,
		"created_at":    exp.CreatedAt.UTC(),
		"trashed":       trashValue(exp.Trashed),
		"removed":       boolToInt(exp.Removed),
	})
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return domain.ErrExperimentExists
		}
		return fmt.Errorf("failed to insert experiment: %w", err)
	}
	return nil
}

func (s *MongoStore) GetExperiment(ctx context.Context, user, jobName string) (*domain.Experiment, error) {
	var doc experimentDoc
	err := s.experiments.FindOne(ctx, experimentFilter(user, jobName)).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrExperimentNotFound
		}
		return nil, fmt.Errorf("failed to get experiment: %w", err)
	}
	return doc.toDomain(), nil
}

func (s *MongoStore) findExperiments(ctx context.Context, filter bson.M) ([]*domain.Experiment, error) {
	opts := options.Find().SetSort(bson.D{{Key: "user", Value: 1}, {Key: "aggr_nickname", Value: 1}})
	cursor, err := s.experiments.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to find experiments: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []experimentDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode experiments: %w", err)
	}

	out := make([]*domain.Experiment, 0, len(docs))
	for i := range docs {
		out = append(out, docs[i].toDomain())
	}
	return out, nil
}

func (s *MongoStore) ListExperiments(ctx context.Context, user string) ([]*domain.Experiment, error) {
	return s.findExperiments(ctx, bson.M{"user": user})
}

func (s *MongoStore) ListExperimentsSince(ctx context.Context, since time.Time) ([]*domain.Experiment, error) {
	return s.findExperiments(ctx, bson.M{"created_at": bson.M{"$gte": since.UTC()}})
}

func (s *MongoStore) updateExperiment(ctx context.Context, user, jobName string, set bson.M) error {
	res, err := s.experiments.UpdateOne(ctx, experimentFilter(user, jobName), bson.M{"$set": set})
	if err != nil {
		return fmt.Errorf("failed to update experiment: %w", err)
	}
	if res.MatchedCount == 0 {
		return domain.ErrExperimentNotFound
	}
	return nil
}

func (s *MongoStore) SetTrashed(ctx context.Context, user, jobName string, state domain.TrashState) error {
	return s.updateExperiment(ctx, user, jobName, bson.M{"trashed": trashValue(state)})
}

func (s *MongoStore) MarkRemoved(ctx context.Context, user, jobName string) error {
	return s.updateExperiment(ctx, user, jobName, bson.M{"removed": 1})
}

func (s *MongoStore) DeleteExperiment(ctx context.Context, user, jobName string) error {
	if _, err := s.experiments.DeleteOne(ctx, experimentFilter(user, jobName)); err != nil {
		return fmt.Errorf("failed to delete experiment: %w", err)
	}
	return nil
}

func (s *MongoStore) EnsureProject(ctx context.Context, project *domain.Project) (bool, error) {
	createdAt := project.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	res, err := s.projects.UpdateOne(ctx,
		projectFilter(project.User, project.Name),
		bson.M{"$setOnInsert": bson.M{
			"description":     project.Description,
			"experiments":     []jobRefDoc{},
			"num_experiments": 0,
			"created_at":      createdAt.UTC(),
			"removed":         0,
			"trashed":         legacyNotTrashed,
		}},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return false, fmt.Errorf("failed to ensure project: %w", err)
	}
	return res.UpsertedCount > 0, nil
}

func (s *MongoStore) GetProject(ctx context.Context, user, name string) (*domain.Project, error) {
	var doc projectDoc
	err := s.projects.FindOne(ctx, projectFilter(user, name)).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrProjectNotFound
		}
		return nil, fmt.Errorf("failed to get project: %w", err)
	}
	return doc.toDomain(), nil
}

func (s *MongoStore) ListProjects(ctx context.Context, user string) ([]*domain.Project, error) {
	opts := options.Find().SetSort(bson.D{{Key: "project_name", Value: 1}})
	cursor, err := s.projects.Find(ctx, bson.M{"user": user}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to find projects: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []projectDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode projects: %w", err)
	}

	out := make([]*domain.Project, 0, len(docs))
	for i := range docs {
		out = append(out, docs[i].toDomain())
	}
	return out, nil
}

// PushJobRef appends the reference and increments the counter in one update.
// The filter only matches while the reference is absent.
func (s *MongoStore) PushJobRef(ctx context.Context, user, project string, ref domain.JobRef) error {
	filter := projectFilter(user, project)
	filter["experiments.aggr_nickname"] = bson.M{"$ne": ref.JobName}

	res, err := s.projects.UpdateOne(ctx, filter, bson.M{
		"$push": bson.M{"experiments": jobRefDoc{
			AggrNickname: ref.JobName,
			Type:         ref.ShareType,
			Modality:     ref.Modality,
		}},
		"$inc": bson.M{"num_experiments": 1},
	})
	if err != nil {
		return fmt.Errorf("failed to push job reference: %w", err)
	}
	if res.MatchedCount > 0 {
		return nil
	}

	// Nothing matched: either the reference is present or the project is missing
	if _, err := s.GetProject(ctx, user, project); err != nil {
		return err
	}
	return nil
}

// PullJobRef removes the reference and decrements the counter in one update.
// The filter only matches while the reference is present.
func (s *MongoStore) PullJobRef(ctx context.Context, user, project, jobName string) error {
	filter := projectFilter(user, project)
	filter["experiments.aggr_nickname"] = jobName

	_, err := s.projects.UpdateOne(ctx, filter, bson.M{
		"$pull": bson.M{"experiments": bson.M{"aggr_nickname": jobName}},
		"$inc":  bson.M{"num_experiments": -1},
	})
	if err != nil {
		return fmt.Errorf("failed to pull job reference: %w", err)
	}
	return nil
}
