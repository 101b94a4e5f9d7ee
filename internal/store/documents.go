package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/aiengrshafiq/QuickBooksImporter/internal/importer"
)

var _ importer.Store = (*Store)(nil)

func (s *Store) DocumentExists(ctx context.Context, t importer.DocType, docNumber string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM imported_documents WHERE doc_type = $1 AND doc_number = $2)`,
		string(t), docNumber).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("document exists %s %s: %w", t, docNumber, err)
	}
	return exists, nil
}

// UpsertSupplier inserts or refreshes a supplier. Empty incoming fields keep
// the stored value.
func (s *Store) UpsertSupplier(ctx context.Context, rec importer.SupplierRecord) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx, `
INSERT INTO suppliers (source, external_id, name, email, phone, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, now(), now())
ON CONFLICT (source, external_id) DO UPDATE
SET name = COALESCE(NULLIF(EXCLUDED.name, ''), suppliers.name),
    email = COALESCE(EXCLUDED.email, suppliers.email),
    phone = COALESCE(EXCLUDED.phone, suppliers.phone),
    updated_at = now()
RETURNING id
`, string(rec.Source), rec.ExternalID, rec.Name, nullText(rec.Email), nullText(rec.Phone)).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("upsert supplier: %w", err)
	}
	return id, nil
}

func (s *Store) UpsertItem(ctx context.Context, rec importer.ItemRecord) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx, `
INSERT INTO items (external_id, name, unit, item_type, description, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, now(), now())
ON CONFLICT (external_id) DO UPDATE
SET name = COALESCE(NULLIF(EXCLUDED.name, ''), items.name),
    unit = COALESCE(EXCLUDED.unit, items.unit),
    item_type = COALESCE(EXCLUDED.item_type, items.item_type),
    description = COALESCE(EXCLUDED.description, items.description),
    updated_at = now()
RETURNING id
`, rec.ExternalID, rec.Name, nullText(rec.Unit), nullText(rec.Type), nullText(rec.Description)).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("upsert item: %w", err)
	}
	return id, nil
}

// WriteDocument stores a document, its lines and attachment references in one
// transaction, creating or linking its LPO first. A clash on the document key
// is reported as importer.ErrDuplicate.
func (s *Store) WriteDocument(ctx context.Context, doc *importer.DocumentRecord) (importer.WriteResult, error) {
	var res importer.WriteResult
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var lpoID *int64
		switch {
		case doc.LinkedLPO != nil:
			id, created, err := insertOrGetLPO(ctx, tx, doc.LinkedLPO)
			if err != nil {
				return err
			}
			res.LPOID, res.LPOCreated = id, created
			lpoID = &id
		case doc.LPODocNumber != "":
			var id int64
			err := tx.QueryRow(ctx,
				`SELECT id FROM imported_documents WHERE doc_type = $1 AND doc_number = $2`,
				string(importer.DocLPO), doc.LPODocNumber).Scan(&id)
			if err != nil {
				return fmt.Errorf("linked lpo %s: %w", doc.LPODocNumber, err)
			}
			res.LPOID = id
			lpoID = &id
		}

		id, err := insertDocument(ctx, tx, doc, lpoID)
		if err != nil {
			return err
		}
		res.DocumentID = id
		return insertChildren(ctx, tx, id, doc)
	})
	if err != nil {
		if isDocumentKeyViolation(err) {
			return importer.WriteResult{}, fmt.Errorf("write %s %s: %w", doc.DocType, doc.DocNumber, importer.ErrDuplicate)
		}
		return importer.WriteResult{}, fmt.Errorf("write %s %s: %w", doc.DocType, doc.DocNumber, err)
	}
	return res, nil
}

const insertDocumentSQL = `
INSERT INTO imported_documents (
  doc_type, doc_number, remote_id, supplier_id, lpo_id, doc_date, due_date, status,
  subtotal, tax_total, total_amount, memo, message, raw_payload, attachment_missing, run_id, imported_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, now())`

func documentArgs(doc *importer.DocumentRecord, lpoID *int64) []any {
	var raw []byte
	if len(doc.Raw) > 0 {
		raw = doc.Raw
	}
	return []any{
		string(doc.DocType), doc.DocNumber, nullText(doc.RemoteID), doc.SupplierID, lpoID,
		doc.Date, nullTime(doc.DueDate), nullText(doc.Status),
		doc.Subtotal, doc.TaxTotal, doc.Total,
		nullText(doc.Memo), nullText(doc.Message), raw, doc.AttachmentMissing, nullText(doc.RunID),
	}
}

func insertDocument(ctx context.Context, tx pgx.Tx, doc *importer.DocumentRecord, lpoID *int64) (int64, error) {
	var id int64
	if err := tx.QueryRow(ctx, insertDocumentSQL+` RETURNING id`, documentArgs(doc, lpoID)...).Scan(&id); err != nil {
		return 0, fmt.Errorf("insert document: %w", err)
	}
	return id, nil
}

// insertOrGetLPO creates the LPO unless a concurrent writer already did.
func insertOrGetLPO(ctx context.Context, tx pgx.Tx, lpo *importer.DocumentRecord) (int64, bool, error) {
	var id int64
	err := tx.QueryRow(ctx,
		insertDocumentSQL+` ON CONFLICT ON CONSTRAINT `+documentKeyConstraint+` DO NOTHING RETURNING id`,
		documentArgs(lpo, nil)...).Scan(&id)
	switch {
	case err == nil:
		if err := insertChildren(ctx, tx, id, lpo); err != nil {
			return 0, false, err
		}
		return id, true, nil
	case errors.Is(err, pgx.ErrNoRows):
		err = tx.QueryRow(ctx,
			`SELECT id FROM imported_documents WHERE doc_type = $1 AND doc_number = $2`,
			string(importer.DocLPO), lpo.DocNumber).Scan(&id)
		if err != nil {
			return 0, false, fmt.Errorf("lookup lpo %s: %w", lpo.DocNumber, err)
		}
		return id, false, nil
	}
	return 0, false, fmt.Errorf("insert lpo %s: %w", lpo.DocNumber, err)
}

func insertChildren(ctx context.Context, tx pgx.Tx, documentID int64, doc *importer.DocumentRecord) error {
	if len(doc.Lines) == 0 && len(doc.Attachments) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, l := range doc.Lines {
		batch.Queue(`
INSERT INTO line_items (document_id, line_num, item_id, description, quantity, rate, tax_rate, amount)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			documentID, l.LineNum, l.ItemID, nullText(l.Description), l.Quantity, l.Rate, l.TaxRate, l.Amount)
	}
	for _, a := range doc.Attachments {
		batch.Queue(`
INSERT INTO attachments (document_id, remote_attachment_id, file_name, content_type, size_bytes, storage_path)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (document_id, remote_attachment_id) DO NOTHING`,
			documentID, a.RemoteID, a.FileName, a.ContentType, a.Size, a.StoragePath)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("insert lines/attachments for %s %s: %w", doc.DocType, doc.DocNumber, err)
	}
	return nil
}
