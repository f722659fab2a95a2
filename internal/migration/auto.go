package migration

import (
	issuerdomain "github.com/smallbiznis/emissor/internal/issuer/domain"
	nfsedomain "github.com/smallbiznis/emissor/internal/nfse/domain"
	sequencedomain "github.com/smallbiznis/emissor/internal/sequence/domain"
	"gorm.io/gorm"
)

// autoMigrate covers the non-postgres development path. The versioned
// SQL migrations stay the source of truth for production schemas.
func autoMigrate(conn *gorm.DB) error {
	if err := conn.AutoMigrate(
		&issuerdomain.Issuer{},
		&sequencedomain.Sequence{},
		&nfsedomain.FiscalDocument{},
	); err != nil {
		return err
	}

	// MySQL has no partial indexes; deployments there rely on the
	// Redis issuance lock for duplicate protection.
	if conn.Dialector.Name() == "mysql" {
		return nil
	}
	return conn.Exec(
		`CREATE UNIQUE INDEX IF NOT EXISTS ux_live_transaction
		 ON fiscal_documents(transaction_id)
		 WHERE status IN ('PROCESSING','ISSUED')`,
	).Error
}
