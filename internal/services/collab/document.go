package collab

import (
	"bytes"
	"errors"
	"sync"
	"time"

	"github.com/automerge/automerge-go"
	"go.uber.org/zap"
)

// TextField is the document key holding the shared source text.
const TextField = "content"

// genesisActor signs the change that creates TextField. Every room document
// starts from the same genesis change, so a client that bootstrapped from
// one server copy still merges into a copy hydrated after a restart.
const genesisActor = "00c0de"

// automerge document and change chunks share this prefix.
var chunkMagic = []byte{0x85, 0x6f, 0x4a, 0x83}

var ErrMalformedUpdate = errors.New("malformed update")

var genesis = sync.OnceValues(func() ([]byte, error) {
	doc := automerge.New()
	if err := doc.SetActorID(genesisActor); err != nil {
		return nil, err
	}
	if err := doc.Path(TextField).Set(automerge.NewText("")); err != nil {
		return nil, err
	}
	if _, err := doc.Commit("", automerge.CommitOptions{Time: &time.Time{}}); err != nil {
		return nil, err
	}
	return doc.Save(), nil
})

// Genesis returns the encoded state every new room document starts from.
func Genesis() []byte {
	state, err := genesis()
	if err != nil {
		panic("collab: automerge genesis: " + err.Error())
	}
	return state
}

// textDocument is a Document over an automerge text object. automerge.Doc
// serializes its own access.
type textDocument struct {
	doc *automerge.Doc
}

func NewTextDocument() Document {
	doc, err := automerge.Load(Genesis())
	if err != nil {
		panic("collab: automerge load: " + err.Error())
	}
	return &textDocument{doc: doc}
}

// Apply merges a change set or a full saved document. The update is decoded
// in full before anything is applied, so a malformed update leaves the
// document untouched. Changes whose dependencies have not arrived yet are
// queued by automerge and applied once they do.
func (d *textDocument) Apply(update []byte) error {
	if !bytes.HasPrefix(update, chunkMagic) {
		return ErrMalformedUpdate
	}
	changes, err := automerge.LoadChanges(update)
	if err != nil {
		return errors.Join(ErrMalformedUpdate, err)
	}
	return d.doc.Apply(changes...)
}

func (d *textDocument) EncodeState() []byte {
	return d.doc.Save()
}

func (d *textDocument) Text() string {
	s, err := d.doc.Path(TextField).Text().Get()
	if err != nil {
		zap.L().Warn("collab.document_text", zap.Error(err))
		return ""
	}
	return s
}
