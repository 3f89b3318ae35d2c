package vecbuf

import "context"

// Close stops the auto-flush loop and flushes every buffered collection.
//
// The final flush uses the LSNSource when auto flush is configured, and the
// highest LSN seen so far otherwise. Operations after Close return ErrClosed.
// Close is idempotent.
func (db *DB) Close() error {
	if db == nil {
		return nil
	}
	db.closeOnce.Do(func() {
		db.closed.Store(true)

		if db.stopFlush != nil {
			db.stopFlush()
			<-db.flushDone
		}

		lsn := db.lastLSN.Load()
		if db.opts.lsnSource != nil {
			lsn = db.opts.lsnSource()
		}
		_, db.closeErr = db.flushAll(context.Background(), lsn)
		db.logger.Info("closed", "lsn", lsn)
	})
	return db.closeErr
}
