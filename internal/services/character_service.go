package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/buger/jsonparser"

	"github.com/lordvitaly/lvchat/internal/store"
	apperrors "github.com/lordvitaly/lvchat/pkg/errors"
)

// DefaultGreeting is used when a saved character carries no greeting.
const DefaultGreeting = "Привет!"

// Character is the profile shown in the character picker.
type Character struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Greeting    string `json:"greeting"`
	UserID      string `json:"user_id,omitempty"`
}

// CharacterName is one entry of the character list.
type CharacterName struct {
	Name string `json:"name"`
}

// SaveCharacterInput is the payload accepted when creating or updating a character.
type SaveCharacterInput struct {
	Name        string  `json:"name" validate:"max=128"`
	Description *string `json:"description"`
	Greeting    *string `json:"greeting"`
}

var defaultCharacters = []Character{
	{Name: "AI_Assistant", Description: "Полезный AI ассистент", Greeting: "Привет! Я AI ассистент."},
	{Name: "Capitano", Description: "Капитан корабля", Greeting: "Приветствую на борту!"},
	{Name: "Дотторе", Description: "Умный доктор", Greeting: "Здравствуйте, чем могу помочь?"},
	{Name: "Роберт", Description: "Дружелюбный собеседник", Greeting: "Привет, я Роберт!"},
	{Name: "Цзин Юань", Description: "Мудрый советник", Greeting: "Приветствую, путник."},
}

// DefaultCharacters returns the built-in characters every user can pick.
func DefaultCharacters() []Character {
	out := make([]Character, len(defaultCharacters))
	copy(out, defaultCharacters)
	return out
}

// CharacterService manages per-user characters and legacy name-only snapshots.
type CharacterService struct {
	characters *store.Namespace
	snapshots  *store.Namespace
}

// NewCharacterService constructs a CharacterService.
func NewCharacterService(characters, snapshots *store.Namespace) (*CharacterService, error) {
	if characters == nil || snapshots == nil {
		return nil, errors.New("character service: namespaces are required")
	}
	return &CharacterService{characters: characters, snapshots: snapshots}, nil
}

// List returns the default characters followed by the user's own, without duplicates.
func (s *CharacterService) List(ctx context.Context, userID string) ([]CharacterName, error) {
	ctx = ensureContext(ctx)
	userID = NormaliseUserID(userID)

	keys, err := s.characters.Keys(ctx)
	if err != nil {
		return nil, apperrors.Wrap(err, "list characters")
	}

	seen := make(map[string]struct{}, len(defaultCharacters)+len(keys))
	names := make([]CharacterName, 0, len(defaultCharacters)+len(keys))
	for _, c := range defaultCharacters {
		seen[c.Name] = struct{}{}
		names = append(names, CharacterName{Name: c.Name})
	}

	suffix := "_" + userID
	for _, key := range keys {
		name, ok := strings.CutSuffix(key, suffix)
		if !ok || name == "" {
			continue
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		names = append(names, CharacterName{Name: name})
	}
	return names, nil
}

// Get returns the user's stored character, falling back to a default one.
func (s *CharacterService) Get(ctx context.Context, name, userID string) (json.RawMessage, error) {
	ctx = ensureContext(ctx)
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, apperrors.NewBadRequest("Character name is required")
	}
	userID = NormaliseUserID(userID)

	rec, err := s.characters.Get(ctx, store.CompositeKey(name, userID))
	if err == nil {
		return rec.Value, nil
	}
	if !errors.Is(err, store.ErrNotFound) && !errors.Is(err, store.ErrExpired) {
		return nil, translateStoreError(err, "Character "+name)
	}

	for _, c := range defaultCharacters {
		if c.Name == name {
			data, err := json.Marshal(c)
			if err != nil {
				return nil, apperrors.Wrap(err, "encode character")
			}
			return data, nil
		}
	}
	return nil, translateStoreError(err, "Character "+name)
}

// Save stores the character under name_user.
func (s *CharacterService) Save(ctx context.Context, userID string, input SaveCharacterInput) (Character, error) {
	ctx = ensureContext(ctx)
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return Character{}, apperrors.NewBadRequest("Character name is required")
	}

	character := Character{
		Name:     name,
		Greeting: DefaultGreeting,
		UserID:   NormaliseUserID(userID),
	}
	if input.Description != nil {
		character.Description = *input.Description
	}
	if input.Greeting != nil {
		character.Greeting = *input.Greeting
	}

	payload, err := json.Marshal(character)
	if err != nil {
		return Character{}, apperrors.Wrap(err, "encode character")
	}
	if _, err := s.characters.Put(ctx, store.CompositeKey(character.Name, character.UserID), payload); err != nil {
		return Character{}, translateStoreError(err, "Character "+name)
	}
	return character, nil
}

// Snapshot returns a legacy character document saved by name only.
func (s *CharacterService) Snapshot(ctx context.Context, name string) (json.RawMessage, error) {
	ctx = ensureContext(ctx)
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, apperrors.NewBadRequest("Character name not provided")
	}

	rec, err := s.snapshots.Get(ctx, name)
	if err != nil {
		return nil, translateStoreError(err, fmt.Sprintf("Character '%s' data", name))
	}
	return rec.Value, nil
}

// SaveSnapshot stores an arbitrary character document keyed by its "name" field.
func (s *CharacterService) SaveSnapshot(ctx context.Context, payload []byte) (string, error) {
	ctx = ensureContext(ctx)

	name, err := jsonparser.GetString(payload, "name")
	if err != nil || strings.TrimSpace(name) == "" {
		return "", apperrors.NewBadRequest("Character name not provided")
	}
	name = strings.TrimSpace(name)

	if _, err := s.snapshots.Put(ctx, name, payload); err != nil {
		return "", translateStoreError(err, fmt.Sprintf("Character '%s' data", name))
	}
	return name, nil
}
