// Package storage is the local offline cache. The last-known
// conversation table and message sequences are persisted to a bbolt
// file so a restart with the backend unreachable still shows the
// last-seen state instead of nothing.
package storage

import (
	"fmt"
	"time"

	"izajadmin/internal/models"

	"go.etcd.io/bbolt"
)

var (
	bucketConversations = []byte("conversations")
	bucketMessages      = []byte("messages")
)

type Cache struct {
	db *bbolt.DB
}

func Open(path string) (*Cache, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open cache db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketConversations); err != nil {
			return err
		}
		if _, err := tx.CreateBucketIfNotExists(bucketMessages); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create buckets: %w", err)
	}

	return &Cache{db: db}, nil
}

func (c *Cache) Close() error {
	return c.db.Close()
}

// UpsertConversation saves a conversation snapshot. The last message is
// not stored here; it is derived from the messages bucket on load.
func (c *Cache) UpsertConversation(conv models.Conversation) error {
	return c.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketConversations)
		dbConv := &DBConversation{
			RoomID:         conv.RoomID,
			SessionID:      conv.SessionID,
			Unread:         conv.Unread,
			CustomerName:   conv.CustomerName,
			CustomerEmail:  conv.CustomerEmail,
			ProductName:    conv.ProductName,
			AdminConnected: conv.AdminConnected,
			CreatedAt:      conv.CreatedAt.UnixMilli(),
		}
		data, err := dbConv.MarshalBinary()
		if err != nil {
			return err
		}
		return b.Put(dbConv.Key(), data)
	})
}

// ListConversations returns every cached conversation.
func (c *Cache) ListConversations() ([]models.Conversation, error) {
	var convs []models.Conversation
	err := c.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketConversations)
		return b.ForEach(func(k, v []byte) error {
			var dbConv DBConversation
			if err := dbConv.UnmarshalBinary(v); err != nil {
				return err
			}
			convs = append(convs, models.Conversation{
				RoomID:         dbConv.RoomID,
				SessionID:      dbConv.SessionID,
				Unread:         dbConv.Unread,
				CustomerName:   dbConv.CustomerName,
				CustomerEmail:  dbConv.CustomerEmail,
				ProductName:    dbConv.ProductName,
				AdminConnected: dbConv.AdminConnected,
				CreatedAt:      time.UnixMilli(dbConv.CreatedAt),
			})
			return nil
		})
	})
	return convs, err
}

// ReplaceMessages rewrites the cached sequence for a room.
func (c *Cache) ReplaceMessages(roomID string, msgs []models.Message) error {
	return c.db.Update(func(tx *bbolt.Tx) error {
		main := tx.Bucket(bucketMessages)
		if main.Bucket([]byte(roomID)) != nil {
			if err := main.DeleteBucket([]byte(roomID)); err != nil {
				return fmt.Errorf("failed to clear room bucket: %w", err)
			}
		}
		roomBucket, err := main.CreateBucket([]byte(roomID))
		if err != nil {
			return fmt.Errorf("failed to create room bucket: %w", err)
		}
		for _, msg := range msgs {
			dbMsg := toDBMessage(msg)
			data, err := dbMsg.MarshalBinary()
			if err != nil {
				return fmt.Errorf("failed to marshal message: %w", err)
			}
			if err := roomBucket.Put(dbMsg.Key(), data); err != nil {
				return fmt.Errorf("failed to put message: %w", err)
			}
		}
		return nil
	})
}

// UpsertMessage appends a single message to a room's cached sequence.
func (c *Cache) UpsertMessage(msg models.Message) error {
	return c.db.Update(func(tx *bbolt.Tx) error {
		main := tx.Bucket(bucketMessages)
		roomBucket, err := main.CreateBucketIfNotExists([]byte(msg.RoomID))
		if err != nil {
			return fmt.Errorf("failed to create room bucket: %w", err)
		}
		dbMsg := toDBMessage(msg)
		data, err := dbMsg.MarshalBinary()
		if err != nil {
			return fmt.Errorf("failed to marshal message: %w", err)
		}
		return roomBucket.Put(dbMsg.Key(), data)
	})
}

// ListMessages returns a room's cached messages in key order, which is
// creation-time ascending.
func (c *Cache) ListMessages(roomID string) ([]models.Message, error) {
	var msgs []models.Message
	err := c.db.View(func(tx *bbolt.Tx) error {
		main := tx.Bucket(bucketMessages)
		roomBucket := main.Bucket([]byte(roomID))
		if roomBucket == nil {
			return nil
		}
		return roomBucket.ForEach(func(k, v []byte) error {
			var dbMsg DBMessage
			if err := dbMsg.UnmarshalBinary(v); err != nil {
				return err
			}
			msgs = append(msgs, models.Message{
				ID:          dbMsg.ID,
				Text:        dbMsg.Text,
				Sender:      models.Sender(dbMsg.Sender),
				CreatedAt:   time.UnixMilli(dbMsg.CreatedAt),
				RoomID:      dbMsg.RoomID,
				SessionID:   dbMsg.SessionID,
				ProductName: dbMsg.ProductName,
				Language:    dbMsg.Language,
			})
			return nil
		})
	})
	return msgs, err
}

func toDBMessage(msg models.Message) *DBMessage {
	return &DBMessage{
		ID:          msg.ID,
		Text:        msg.Text,
		Sender:      string(msg.Sender),
		CreatedAt:   msg.CreatedAt.UnixMilli(),
		RoomID:      msg.RoomID,
		SessionID:   msg.SessionID,
		ProductName: msg.ProductName,
		Language:    msg.Language,
	}
}
