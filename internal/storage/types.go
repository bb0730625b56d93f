package storage

import (
	"encoding"
	"encoding/binary"

	"github.com/vmihailenco/msgpack/v5"
)

type Storeable interface {
	Key() []byte
	encoding.BinaryMarshaler
	encoding.BinaryUnmarshaler
}

type DBConversation struct {
	RoomID         string `msgpack:"roomId"`
	SessionID      string `msgpack:"sessionId"`
	Unread         int    `msgpack:"unread"`
	CustomerName   string `msgpack:"customerName"`
	CustomerEmail  string `msgpack:"customerEmail"`
	ProductName    string `msgpack:"productName"`
	AdminConnected bool   `msgpack:"adminConnected"`
	CreatedAt      int64  `msgpack:"createdAt"` // Unix milliseconds
}

func (c *DBConversation) Key() []byte {
	return []byte(c.RoomID)
}

func (c *DBConversation) MarshalBinary() (data []byte, err error) {
	type alias DBConversation
	return msgpack.Marshal((*alias)(c))
}

func (c *DBConversation) UnmarshalBinary(data []byte) error {
	type alias DBConversation
	return msgpack.Unmarshal(data, (*alias)(c))
}

type DBMessage struct {
	ID          string `msgpack:"id"`
	Text        string `msgpack:"text"`
	Sender      string `msgpack:"sender"`
	CreatedAt   int64  `msgpack:"createdAt"` // Unix milliseconds
	RoomID      string `msgpack:"roomId"`
	SessionID   string `msgpack:"sessionId"`
	ProductName string `msgpack:"productName"`
	Language    string `msgpack:"language"`
}

// Key orders messages by creation time, with the id as a tiebreaker so
// equal-timestamp messages get distinct keys.
func (m *DBMessage) Key() []byte {
	key := make([]byte, 8, 8+len(m.ID))
	binary.BigEndian.PutUint64(key, uint64(m.CreatedAt))
	return append(key, []byte(m.ID)...)
}

func (m *DBMessage) MarshalBinary() (data []byte, err error) {
	type alias DBMessage
	return msgpack.Marshal((*alias)(m))
}

func (m *DBMessage) UnmarshalBinary(data []byte) error {
	type alias DBMessage
	return msgpack.Unmarshal(data, (*alias)(m))
}
