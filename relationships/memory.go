package relationships

import (
	"context"
	"sync"

	"github.com/lightningnetwork/recoverykit/account"
)

// MemorySyncer is a Syncer over an in-memory relationship table.
type MemorySyncer struct {
	mu        sync.Mutex
	relations map[account.ID]*Relationships
}

// A compile time check to ensure MemorySyncer implements the Syncer
// interface.
var _ Syncer = (*MemorySyncer)(nil)

// NewMemorySyncer creates an empty MemorySyncer.
func NewMemorySyncer() *MemorySyncer {
	return &MemorySyncer{
		relations: make(map[account.ID]*Relationships),
	}
}

// AddContact records a trusted contact for the account.
func (m *MemorySyncer) AddContact(id account.ID, contact TrustedContact) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rel := m.get(id)
	if contact.Certificate != nil {
		rel.EndorsedContacts = append(rel.EndorsedContacts, contact)
		return
	}
	rel.UnendorsedContacts = append(rel.UnendorsedContacts, contact)
}

func (m *MemorySyncer) get(id account.ID) *Relationships {
	rel, ok := m.relations[id]
	if !ok {
		rel = &Relationships{}
		m.relations[id] = rel
	}

	return rel
}

// SyncAndVerifyRelationships returns a copy of the account's relationships,
// marking endorsed contacts whose certificate does not verify or was not
// issued under any of the trusted keys as Tampered.
//
// NOTE: This is part of the Syncer interface.
func (m *MemorySyncer) SyncAndVerifyRelationships(ctx context.Context,
	id account.ID, trusted []account.AuthKeys) (*Relationships, error) {

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	rel := m.get(id)
	out := &Relationships{
		Invitations: append(
			[]Invitation(nil), rel.Invitations...,
		),
		UnendorsedContacts: append(
			[]TrustedContact(nil), rel.UnendorsedContacts...,
		),
		ProtectedCustomers: append(
			[]ProtectedCustomer(nil), rel.ProtectedCustomers...,
		),
	}
	for _, contact := range rel.EndorsedContacts {
		if !Authentic(&contact, trusted) {
			log.Warnf("Trusted contact %v of account %v failed "+
				"verification", contact.RelationshipID, id)

			contact.AuthState = Tampered
		}
		out.EndorsedContacts = append(out.EndorsedContacts, contact)
	}

	return out, nil
}

// EndorseTrustedContacts replaces the certificates of the given contacts
// and moves them to the endorsed set.
//
// NOTE: This is part of the Syncer interface.
func (m *MemorySyncer) EndorseTrustedContacts(ctx context.Context,
	id account.ID, endorsements []Endorsement) error {

	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	certs := make(map[string]*KeyCertificate, len(endorsements))
	for _, e := range endorsements {
		certs[e.RelationshipID] = e.Certificate
	}

	rel := m.get(id)
	var endorsed, unendorsed []TrustedContact
	all := append(
		append([]TrustedContact(nil), rel.EndorsedContacts...),
		rel.UnendorsedContacts...,
	)
	for _, contact := range all {
		if cert, ok := certs[contact.RelationshipID]; ok {
			contact.Certificate = cert
			contact.AuthState = Verified
		}

		if contact.Certificate != nil {
			endorsed = append(endorsed, contact)
		} else {
			unendorsed = append(unendorsed, contact)
		}
	}
	rel.EndorsedContacts = endorsed
	rel.UnendorsedContacts = unendorsed

	log.Debugf("Endorsed %d trusted contacts of account %v",
		len(endorsements), id)

	return nil
}
