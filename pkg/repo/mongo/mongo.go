package mongo

import (
	"context"
	"fmt"

	"github.com/rtemka/foodoo/domain"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Когда при выполнении операции не найдено
// ни одного документа
var ErrNoDocuments = mongo.ErrNoDocuments

// псевдоним для объекта хранения БД
type item = domain.FoodItem

// document - представление FoodItem в коллекции.
type document struct {
	ID          primitive.ObjectID `bson:"_id,omitempty"`
	Name        string             `bson:"name"`
	Calories    string             `bson:"calories"`
	Price       string             `bson:"price"`
	Rate        float32            `bson:"rate"`
	StoredCount int                `bson:"storedCount"`
}

func (d document) item() item {
	return item{
		ID:          d.ID.Hex(),
		Name:        d.Name,
		Calories:    d.Calories,
		Price:       d.Price,
		Rate:        d.Rate,
		StoredCount: d.StoredCount,
	}
}

func objectID(id string) (primitive.ObjectID, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return oid, fmt.Errorf("%w: %q", domain.ErrInvalidID, id)
	}
	return oid, nil
}

// Mongo структура для выполнения CRUD операций с БД
type Mongo struct {
	client *mongo.Client // клиент mongo
	// название текущей db,
	// переключается методом Database()
	database string
	// название текущей collection,
	// переключается методом Collection()
	collection string
}

// New подключается к БД, используя connstr, и возвращает
// объект для работы с БД
func New(connstr, database, collection string) (*Mongo, error) {

	client, err := mongo.Connect(context.Background(), options.Client().ApplyURI(connstr))
	if err != nil {
		return nil, err
	}

	if err := client.Ping(context.Background(), nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}

	return &Mongo{
		client:     client,
		database:   database,
		collection: collection,
	}, nil
}

// Database переключает имя базы данных mongodb
// в структуре *Mongo
func (m *Mongo) Database(database string) *Mongo {
	m.database = database
	return m
}

// Collection переключает имя коллекции в структуре *Mongo.
func (m *Mongo) Collection(collection string) *Mongo {
	m.collection = collection
	return m
}

func (m *Mongo) col() *mongo.Collection {
	return m.client.Database(m.database).Collection(m.collection)
}

// Close закрывает соединение с БД
func (m *Mongo) Close() error {
	return m.client.Disconnect(context.Background())
}

// find выполняет запрос и раскладывает документы в []item.
func (m *Mongo) find(ctx context.Context, opts *options.FindOptions) ([]item, error) {
	cursor, err := m.col().Find(ctx, bson.D{}, opts)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = cursor.Close(ctx)
	}()

	var docs []document
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}

	items := make([]item, len(docs))
	for i := range docs {
		items[i] = docs[i].item()
	}
	return items, nil
}

// Items возвращает все объекты, упорядоченные по имени.
func (m *Mongo) Items(ctx context.Context) ([]item, error) {
	return m.find(ctx, options.Find().SetSort(bson.D{{Key: "name", Value: 1}}))
}

// TopStored возвращает limit объектов с наибольшим storedCount.
func (m *Mongo) TopStored(ctx context.Context, limit int) ([]item, error) {
	opts := options.Find().SetSort(bson.D{{Key: "storedCount", Value: -1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	return m.find(ctx, opts)
}

// AddItem добавляет в БД объект, _id назначает mongo.
func (m *Mongo) AddItem(ctx context.Context, it item) (string, error) {
	doc := document{
		Name:        it.Name,
		Calories:    it.Calories,
		Price:       it.Price,
		Rate:        it.Rate,
		StoredCount: it.StoredCount,
	}

	res, err := m.col().InsertOne(ctx, doc)
	if err != nil {
		return "", err
	}

	oid, ok := res.InsertedID.(primitive.ObjectID)
	if !ok {
		return fmt.Sprint(res.InsertedID), nil
	}
	return oid.Hex(), nil
}

// Item находит объект по id.
// Возвращает ошибку domain.ErrNotFound в случае если документ не найден.
func (m *Mongo) Item(ctx context.Context, id string) (item, error) {
	oid, err := objectID(id)
	if err != nil {
		return item{}, err
	}

	var doc document
	err = m.col().FindOne(ctx, bson.D{{Key: "_id", Value: oid}}).Decode(&doc)
	if err == ErrNoDocuments {
		return item{}, domain.ErrNotFound
	}
	if err != nil {
		return item{}, err
	}
	return doc.item(), nil
}

// updateByID применяет $set к документу, отсутствие документа
// считается ошибкой.
func (m *Mongo) updateByID(ctx context.Context, id string, set bson.D) error {
	oid, err := objectID(id)
	if err != nil {
		return err
	}

	res, err := m.col().UpdateByID(ctx, oid, bson.D{{Key: "$set", Value: set}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// UpdateItem обновляет описание объекта, storedCount не трогает.
func (m *Mongo) UpdateItem(ctx context.Context, it item) error {
	return m.updateByID(ctx, it.ID, bson.D{
		{Key: "name", Value: it.Name},
		{Key: "calories", Value: it.Calories},
		{Key: "price", Value: it.Price},
		{Key: "rate", Value: it.Rate},
	})
}

// SetStoredCount обновляет только поле storedCount.
func (m *Mongo) SetStoredCount(ctx context.Context, id string, count int) error {
	return m.updateByID(ctx, id, bson.D{{Key: "storedCount", Value: count}})
}

// DeleteItem удаляет из БД объект по id.
func (m *Mongo) DeleteItem(ctx context.Context, id string) error {
	oid, err := objectID(id)
	if err != nil {
		return err
	}
	_, err = m.col().DeleteOne(ctx, bson.D{{Key: "_id", Value: oid}})
	return err
}
