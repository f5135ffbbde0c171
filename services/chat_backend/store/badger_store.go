// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/AleutianChat/services/chat_backend/datatypes"
)

// Key layout. Message records are stored once under their message_id and
// indexed per chat under a zero-padded timestamp so that lexicographic
// key order equals chronological order.
const (
	keyPrefixAccount   = "account/"
	keyPrefixChat      = "chat/"
	keyPrefixMessage   = "message/"
	keyPrefixChatIndex = "chatmsg/"
)

// badgerLogger adapts Badger's logging interface to slog.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

// BadgerStore implements ConversationStore on an embedded Badger database.
// It backs lightweight deployments that run without Weaviate, and tests.
type BadgerStore struct {
	db *badger.DB
}

var _ ConversationStore = (*BadgerStore)(nil)

// -----------------------------------------------------------------------
// NewBadgerStore
// -----------------------------------------------------------------------
//
// Description:
//
//	Opens an embedded Badger database at the given path. An empty path
//	opens an in-memory database that is discarded on Close, which is
//	the mode used by tests and by lightweight deployments that do not
//	need durability.
//
// Inputs:
//
//	path - directory for the database files, or "" for in-memory.
//
// Outputs:
//
//	The opened store, or an error if the directory cannot be created
//	or the database cannot be opened.
//
// Thread Safety:
//
//	The returned store is safe for concurrent use; Badger transactions
//	provide isolation.
func NewBadgerStore(path string) (*BadgerStore, error) {
	var opts badger.Options
	if path == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(path, 0750); err != nil {
			return nil, fmt.Errorf("failed to create badger directory: %w", err)
		}
		opts = badger.DefaultOptions(path)
	}

	opts = opts.
		WithSyncWrites(true).
		WithNumVersionsToKeep(1).
		WithLogger(&badgerLogger{logger: slog.Default()})

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger database: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

func (s *BadgerStore) CreateAccount(ctx context.Context, props *datatypes.AccountProperties) error {
	return s.setJSON(keyPrefixAccount+props.AccountID, props)
}

func (s *BadgerStore) GetAccount(ctx context.Context, accountID string) (*datatypes.AccountProperties, error) {
	var props datatypes.AccountProperties
	if err := s.getJSON(keyPrefixAccount+accountID, &props); err != nil {
		if err == badger.ErrKeyNotFound {
			return nil, fmt.Errorf("account %q: %w", accountID, ErrAccountNotFound)
		}
		return nil, err
	}
	return &props, nil
}

func (s *BadgerStore) CreateChat(ctx context.Context, props *datatypes.ChatProperties) error {
	return s.setJSON(keyPrefixChat+props.ConversationID, props)
}

func (s *BadgerStore) GetChat(ctx context.Context, conversationID string) (*datatypes.ChatProperties, error) {
	var props datatypes.ChatProperties
	if err := s.getJSON(keyPrefixChat+conversationID, &props); err != nil {
		if err == badger.ErrKeyNotFound {
			return nil, fmt.Errorf("chat %q: %w", conversationID, ErrChatNotFound)
		}
		return nil, err
	}
	return &props, nil
}

// AppendMessage stores the record under its message_id and writes a chat
// index entry keyed by timestamp for ordered listing.
func (s *BadgerStore) AppendMessage(ctx context.Context, props *datatypes.ChatMessageProperties) error {
	value, err := json.Marshal(props)
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}

	indexKey := chatIndexKey(props.ConversationID, props.Timestamp, props.MessageID)
	return s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set([]byte(keyPrefixMessage+props.MessageID), value); err != nil {
			return err
		}
		return txn.Set([]byte(indexKey), []byte(props.MessageID))
	})
}

func (s *BadgerStore) ListMessages(ctx context.Context, conversationID string, limit int) ([]datatypes.ChatMessageProperties, error) {
	var records []datatypes.ChatMessageProperties

	err := s.db.View(func(txn *badger.Txn) error {
		prefix := []byte(keyPrefixChatIndex + conversationID + "/")

		var messageIDs []string
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				messageIDs = append(messageIDs, string(val))
				return nil
			})
			if err != nil {
				return err
			}
		}

		if limit > 0 && len(messageIDs) > limit {
			messageIDs = messageIDs[len(messageIDs)-limit:]
		}

		for _, id := range messageIDs {
			item, err := txn.Get([]byte(keyPrefixMessage + id))
			if err != nil {
				return fmt.Errorf("failed to load message %s: %w", id, err)
			}
			var props datatypes.ChatMessageProperties
			err = item.Value(func(val []byte) error {
				return json.Unmarshal(val, &props)
			})
			if err != nil {
				return err
			}
			records = append(records, props)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

func (s *BadgerStore) RecentMessages(ctx context.Context, conversationID string, limit int) ([]datatypes.Message, error) {
	records, err := s.ListMessages(ctx, conversationID, limit)
	if err != nil {
		return nil, err
	}

	turns := make([]datatypes.Message, 0, len(records)*2)
	for i := range records {
		turns = append(turns, records[i].Turns()...)
	}
	return turns, nil
}

func (s *BadgerStore) UpdateMessage(ctx context.Context, messageID string, fields map[string]interface{}) error {
	key := []byte(keyPrefixMessage + messageID)
	return s.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err == badger.ErrKeyNotFound {
			return fmt.Errorf("message %q: %w", messageID, ErrMessageNotFound)
		}
		if err != nil {
			return err
		}

		var props datatypes.ChatMessageProperties
		err = item.Value(func(val []byte) error {
			return json.Unmarshal(val, &props)
		})
		if err != nil {
			return err
		}

		applyMessageFields(&props, fields)

		value, err := json.Marshal(&props)
		if err != nil {
			return fmt.Errorf("failed to encode message: %w", err)
		}
		return txn.Set(key, value)
	})
}

func (s *BadgerStore) UpdateChatTitle(ctx context.Context, conversationID string, title string) error {
	key := []byte(keyPrefixChat + conversationID)
	return s.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err == badger.ErrKeyNotFound {
			return fmt.Errorf("chat %q: %w", conversationID, ErrChatNotFound)
		}
		if err != nil {
			return err
		}

		var props datatypes.ChatProperties
		err = item.Value(func(val []byte) error {
			return json.Unmarshal(val, &props)
		})
		if err != nil {
			return err
		}

		props.Title = title
		value, err := json.Marshal(&props)
		if err != nil {
			return fmt.Errorf("failed to encode chat: %w", err)
		}
		return txn.Set(key, value)
	})
}

func (s *BadgerStore) Close() error {
	return s.db.Close()
}

// ===== Helpers =====

func (s *BadgerStore) setJSON(key string, record interface{}) error {
	value, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to encode record: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), value)
	})
}

func (s *BadgerStore) getJSON(key string, record interface{}) error {
	return s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, record)
		})
	})
}

// chatIndexKey zero-pads the timestamp so lexicographic order matches
// chronological order; the message id breaks ties within a millisecond.
func chatIndexKey(conversationID string, timestamp int64, messageID string) string {
	return fmt.Sprintf("%s%s/%020d/%s", keyPrefixChatIndex, conversationID, timestamp, messageID)
}

func applyMessageFields(props *datatypes.ChatMessageProperties, fields map[string]interface{}) {
	for key, value := range fields {
		text, ok := value.(string)
		if !ok {
			slog.Warn("Ignoring non-string message field", "field", key)
			continue
		}
		switch key {
		case "response":
			props.Response = text
		case "title":
			props.Title = text
		case "content":
			props.Content = text
		default:
			slog.Warn("Ignoring unknown message field", "field", key)
		}
	}
}
