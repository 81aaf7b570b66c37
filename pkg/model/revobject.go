// Package model holds the immutable revision objects stored by the object
// store, their identifiers and their canonical encoding.
package model

import (
	"fmt"
	"time"
)

// ObjectType discriminates the RevObject variants. The value is the first
// field of every canonical encoding.
type ObjectType uint8

const (
	TypeCommit ObjectType = iota + 1
	TypeTree
	TypeFeature
	TypeFeatureType
	TypeTag
)

func (t ObjectType) String() string {
	switch t {
	case TypeCommit:
		return "COMMIT"
	case TypeTree:
		return "TREE"
	case TypeFeature:
		return "FEATURE"
	case TypeFeatureType:
		return "FEATURETYPE"
	case TypeTag:
		return "TAG"
	}
	return fmt.Sprintf("UNKNOWN(%d)", uint8(t))
}

func (t ObjectType) valid() bool {
	return t >= TypeCommit && t <= TypeTag
}

// RevObject is any content-addressed object. Its ID is the hash of its
// canonical encoding and never changes.
type RevObject interface {
	ID() ObjectID
	Type() ObjectType
}

// Person is an author, committer or tagger signature.
type Person struct {
	Name  string
	Email string
	// Timestamp in milliseconds since the epoch.
	Timestamp int64
	// TimezoneOffset in milliseconds east of UTC.
	TimezoneOffset int32
}

// Time returns the signature time in the signature's own zone.
func (p Person) Time() time.Time {
	zone := time.FixedZone("", int(p.TimezoneOffset/1000))
	return time.UnixMilli(p.Timestamp).In(zone)
}

// Commit is a snapshot of a root tree with its ancestry.
type Commit struct {
	id        ObjectID
	tree      ObjectID
	parents   []ObjectID
	author    Person
	committer Person
	message   string
}

// CommitParams carries the content of a new commit.
type CommitParams struct {
	Tree      ObjectID
	Parents   []ObjectID
	Author    Person
	Committer Person
	Message   string
}

// NewCommit builds a commit and computes its id.
func NewCommit(p CommitParams) *Commit {
	c := &Commit{
		tree:      p.Tree,
		parents:   cloneIDs(p.Parents),
		author:    p.Author,
		committer: p.Committer,
		message:   p.Message,
	}
	c.id = Hash(Encode(c))
	return c
}

func (c *Commit) ID() ObjectID     { return c.id }
func (c *Commit) Type() ObjectType { return TypeCommit }
func (c *Commit) TreeID() ObjectID { return c.tree }
func (c *Commit) Author() Person   { return c.author }
func (c *Commit) Committer() Person {
	return c.committer
}
func (c *Commit) Message() string { return c.message }

// Parents returns a copy of the ordered parent ids.
func (c *Commit) Parents() []ObjectID { return cloneIDs(c.parents) }

// ParentN returns the n-th parent if present.
func (c *Commit) ParentN(n int) (ObjectID, bool) {
	if n < 0 || n >= len(c.parents) {
		return NullID, false
	}
	return c.parents[n], true
}

// Tag binds a name to a commit.
type Tag struct {
	id       ObjectID
	name     string
	commitID ObjectID
	message  string
	tagger   Person
}

func NewTag(name string, commitID ObjectID, message string, tagger Person) *Tag {
	t := &Tag{name: name, commitID: commitID, message: message, tagger: tagger}
	t.id = Hash(Encode(t))
	return t
}

func (t *Tag) ID() ObjectID       { return t.id }
func (t *Tag) Type() ObjectType   { return TypeTag }
func (t *Tag) Name() string       { return t.name }
func (t *Tag) CommitID() ObjectID { return t.commitID }
func (t *Tag) Message() string    { return t.message }
func (t *Tag) Tagger() Person     { return t.tagger }

func cloneIDs(ids []ObjectID) []ObjectID {
	if len(ids) == 0 {
		return nil
	}
	return append([]ObjectID(nil), ids...)
}
