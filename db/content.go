package db

import (
	"database/sql"
	"fmt"

	"github.com/MbinOrg/mbin-sub001/domain"
	"github.com/google/uuid"
)

const contentColumns = `id, kind, ap_id, author_id, magazine_id, root_id, parent_id, recipient_id,
	title, body, url, visibility, favourite_count, down_count, comment_count, sticky, locked,
	is_adult, materialized, created_at, edited_at`

const (
	sqlInsertContent = `INSERT INTO contents(` + contentColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	sqlUpdateContent = `UPDATE contents SET title = ?, body = ?, url = ?, visibility = ?,
		sticky = ?, locked = ?, is_adult = ?, materialized = ?, edited_at = ? WHERE id = ?`
	sqlSelectContentById  = `SELECT ` + contentColumns + ` FROM contents WHERE id = ?`
	sqlSelectContentByURI = `SELECT ` + contentColumns + ` FROM contents WHERE ap_id = ?`
	sqlRecountContent     = `UPDATE contents SET
		favourite_count = (SELECT COUNT(*) FROM votes WHERE content_id = contents.id AND choice = 1),
		down_count = (SELECT COUNT(*) FROM votes WHERE content_id = contents.id AND choice = -1),
		comment_count = (SELECT COUNT(*) FROM contents c WHERE c.root_id = contents.id AND c.visibility = 'visible')
		WHERE id = ?`
	sqlSelectPinnedURIs = `SELECT ap_id FROM contents
		WHERE magazine_id = ? AND sticky = 1 AND ap_id IS NOT NULL AND visibility = 'visible'
		ORDER BY created_at DESC`
)

func (t *Tx) CreateContent(c *domain.Content) error {
	_, err := t.exec(sqlInsertContent,
		c.Id,
		string(c.Kind),
		nullString(c.ApId),
		c.AuthorId,
		c.MagazineId,
		c.RootId,
		c.ParentId,
		c.RecipientId,
		c.Title,
		c.Body,
		c.URL,
		string(c.Visibility),
		c.FavouriteCount,
		c.DownCount,
		c.CommentCount,
		c.Sticky,
		c.Locked,
		c.IsAdult,
		c.Materialized,
		utc(c.CreatedAt),
		utc(c.EditedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert %s: %w", c.Kind, err)
	}
	return nil
}

// UpdateContent writes the mutable fields of a content subject. Counters are
// owned by RecountContent.
func (t *Tx) UpdateContent(c *domain.Content) error {
	return expectRow(t.exec(sqlUpdateContent,
		c.Title,
		c.Body,
		c.URL,
		string(c.Visibility),
		c.Sticky,
		c.Locked,
		c.IsAdult,
		c.Materialized,
		utc(c.EditedAt),
		c.Id,
	))
}

func (t *Tx) ReadContentById(id uuid.UUID) (*domain.Content, error) {
	return scanContent(t.queryRow(sqlSelectContentById, id))
}

func (t *Tx) ReadContentByURI(uri string) (*domain.Content, error) {
	if uri == "" {
		return nil, domain.ErrNotFound
	}
	return scanContent(t.queryRow(sqlSelectContentByURI, uri))
}

// RecountContent recomputes the vote and comment counters of a content subject
// from the rows that back them.
func (t *Tx) RecountContent(id uuid.UUID) error {
	return expectRow(t.exec(sqlRecountContent, id))
}

// ReadPinnedContentURIs lists the federation ids of a magazine's pinned entries.
func (t *Tx) ReadPinnedContentURIs(magazineId uuid.UUID) ([]string, error) {
	rows, err := t.query(sqlSelectPinnedURIs, magazineId)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var uris []string
	for rows.Next() {
		var uri string
		if err := rows.Scan(&uri); err != nil {
			return nil, err
		}
		uris = append(uris, uri)
	}
	return uris, mapError(rows.Err())
}

func scanContent(row scanner) (*domain.Content, error) {
	var c domain.Content
	var kind, visibility string
	var apId sql.NullString
	err := row.Scan(
		&c.Id,
		&kind,
		&apId,
		&c.AuthorId,
		&c.MagazineId,
		&c.RootId,
		&c.ParentId,
		&c.RecipientId,
		&c.Title,
		&c.Body,
		&c.URL,
		&visibility,
		&c.FavouriteCount,
		&c.DownCount,
		&c.CommentCount,
		&c.Sticky,
		&c.Locked,
		&c.IsAdult,
		&c.Materialized,
		&c.CreatedAt,
		&c.EditedAt,
	)
	if err != nil {
		return nil, mapError(err)
	}
	c.Kind = domain.ContentKind(kind)
	c.Visibility = domain.Visibility(visibility)
	c.ApId = apId.String
	return &c, nil
}
