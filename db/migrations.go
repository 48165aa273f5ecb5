package db

import (
	"context"
	"log"
)

// Schema of the inbox store. Timestamps are written as UTC, booleans as 0/1,
// ids as uuid text.
const (
	// Local and remote users and magazines
	sqlCreateActorsTable = `CREATE TABLE IF NOT EXISTS actors (
		id TEXT NOT NULL PRIMARY KEY,
		kind TEXT NOT NULL,
		name TEXT NOT NULL,
		display_name TEXT NOT NULL DEFAULT '',
		about TEXT NOT NULL DEFAULT '',
		ap_id TEXT,
		ap_domain TEXT NOT NULL DEFAULT '',
		ap_profile_id TEXT,
		ap_public_url TEXT NOT NULL DEFAULT '',
		ap_inbox_url TEXT NOT NULL DEFAULT '',
		ap_shared_inbox_url TEXT NOT NULL DEFAULT '',
		ap_followers_url TEXT NOT NULL DEFAULT '',
		ap_moderators_url TEXT NOT NULL DEFAULT '',
		ap_featured_url TEXT NOT NULL DEFAULT '',
		ap_followers_count INTEGER NOT NULL DEFAULT 0,
		ap_fetched_at TIMESTAMP,
		public_key_pem TEXT NOT NULL DEFAULT '',
		old_public_key_pem TEXT NOT NULL DEFAULT '',
		private_key_pem TEXT NOT NULL DEFAULT '',
		last_key_rotation_at TIMESTAMP,
		followers_count INTEGER NOT NULL DEFAULT 0,
		followers_delta INTEGER NOT NULL DEFAULT 0,
		is_banned INTEGER NOT NULL DEFAULT 0,
		is_deleted INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL,
		UNIQUE(ap_id),
		UNIQUE(ap_profile_id)
	)`

	sqlCreateActorsIndices = `
		CREATE UNIQUE INDEX IF NOT EXISTS idx_actors_local_name ON actors(kind, name) WHERE ap_id IS NULL;
		CREATE INDEX IF NOT EXISTS idx_actors_public_url ON actors(ap_public_url);
		CREATE INDEX IF NOT EXISTS idx_actors_moderators_url ON actors(ap_moderators_url);
		CREATE INDEX IF NOT EXISTS idx_actors_featured_url ON actors(ap_featured_url);
		CREATE INDEX IF NOT EXISTS idx_actors_domain ON actors(ap_domain);
	`

	// Entries, posts, comments and messages
	sqlCreateContentsTable = `CREATE TABLE IF NOT EXISTS contents (
		id TEXT NOT NULL PRIMARY KEY,
		kind TEXT NOT NULL,
		ap_id TEXT,
		author_id TEXT NOT NULL REFERENCES actors(id),
		magazine_id TEXT REFERENCES actors(id),
		root_id TEXT,
		parent_id TEXT,
		recipient_id TEXT,
		title TEXT NOT NULL DEFAULT '',
		body TEXT NOT NULL DEFAULT '',
		url TEXT NOT NULL DEFAULT '',
		visibility TEXT NOT NULL DEFAULT 'visible',
		favourite_count INTEGER NOT NULL DEFAULT 0,
		down_count INTEGER NOT NULL DEFAULT 0,
		comment_count INTEGER NOT NULL DEFAULT 0,
		sticky INTEGER NOT NULL DEFAULT 0,
		locked INTEGER NOT NULL DEFAULT 0,
		is_adult INTEGER NOT NULL DEFAULT 0,
		materialized INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL,
		edited_at TIMESTAMP,
		UNIQUE(ap_id)
	)`

	sqlCreateContentsIndices = `
		CREATE INDEX IF NOT EXISTS idx_contents_magazine ON contents(magazine_id);
		CREATE INDEX IF NOT EXISTS idx_contents_root ON contents(root_id);
		CREATE INDEX IF NOT EXISTS idx_contents_author ON contents(author_id);
	`

	sqlCreateVotesTable = `CREATE TABLE IF NOT EXISTS votes (
		id TEXT NOT NULL PRIMARY KEY,
		actor_id TEXT NOT NULL REFERENCES actors(id),
		content_id TEXT NOT NULL REFERENCES contents(id),
		choice INTEGER NOT NULL,
		ap_id TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL,
		UNIQUE(actor_id, content_id)
	)`

	sqlCreateVotesIndices = `
		CREATE INDEX IF NOT EXISTS idx_votes_content ON votes(content_id);
	`

	sqlCreateSubscriptionsTable = `CREATE TABLE IF NOT EXISTS magazine_subscriptions (
		id TEXT NOT NULL PRIMARY KEY,
		magazine_id TEXT NOT NULL REFERENCES actors(id),
		user_id TEXT NOT NULL REFERENCES actors(id),
		follow_ap_id TEXT NOT NULL DEFAULT '',
		pending INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL,
		UNIQUE(magazine_id, user_id)
	)`

	sqlCreateUserFollowsTable = `CREATE TABLE IF NOT EXISTS user_follows (
		id TEXT NOT NULL PRIMARY KEY,
		follower_id TEXT NOT NULL REFERENCES actors(id),
		following_id TEXT NOT NULL REFERENCES actors(id),
		follow_ap_id TEXT NOT NULL DEFAULT '',
		pending INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL,
		UNIQUE(follower_id, following_id)
	)`

	sqlCreateFollowIndices = `
		CREATE INDEX IF NOT EXISTS idx_subscriptions_follow_ap_id ON magazine_subscriptions(follow_ap_id);
		CREATE INDEX IF NOT EXISTS idx_subscriptions_user ON magazine_subscriptions(user_id);
		CREATE INDEX IF NOT EXISTS idx_user_follows_follow_ap_id ON user_follows(follow_ap_id);
		CREATE INDEX IF NOT EXISTS idx_user_follows_follower ON user_follows(follower_id);
	`

	sqlCreateModeratorsTable = `CREATE TABLE IF NOT EXISTS moderators (
		id TEXT NOT NULL PRIMARY KEY,
		magazine_id TEXT NOT NULL REFERENCES actors(id),
		user_id TEXT NOT NULL REFERENCES actors(id),
		added_by_id TEXT,
		created_at TIMESTAMP NOT NULL,
		UNIQUE(magazine_id, user_id)
	)`

	sqlCreateBansTable = `CREATE TABLE IF NOT EXISTS magazine_bans (
		id TEXT NOT NULL PRIMARY KEY,
		magazine_id TEXT NOT NULL REFERENCES actors(id),
		user_id TEXT NOT NULL REFERENCES actors(id),
		banned_by_id TEXT,
		reason TEXT NOT NULL DEFAULT '',
		expired_at TIMESTAMP,
		created_at TIMESTAMP NOT NULL
	)`

	sqlCreateBansIndices = `
		CREATE INDEX IF NOT EXISTS idx_magazine_bans_pair ON magazine_bans(magazine_id, user_id);
	`

	sqlCreateReportsTable = `CREATE TABLE IF NOT EXISTS reports (
		id TEXT NOT NULL PRIMARY KEY,
		magazine_id TEXT,
		content_id TEXT NOT NULL REFERENCES contents(id),
		reporter_id TEXT NOT NULL REFERENCES actors(id),
		reason TEXT NOT NULL DEFAULT '',
		ap_id TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL
	)`

	sqlCreateMagazineLogsTable = `CREATE TABLE IF NOT EXISTS magazine_logs (
		id TEXT NOT NULL PRIMARY KEY,
		magazine_id TEXT NOT NULL,
		actor_id TEXT NOT NULL,
		type TEXT NOT NULL,
		content_id TEXT,
		user_id TEXT,
		ban_id TEXT,
		created_at TIMESTAMP NOT NULL
	)`

	sqlCreateMagazineLogsIndices = `
		CREATE INDEX IF NOT EXISTS idx_magazine_logs_magazine ON magazine_logs(magazine_id, created_at DESC);
	`

	// Idempotency ledger
	sqlCreateProcessedActivitiesTable = `CREATE TABLE IF NOT EXISTS processed_activities (
		activity_uri TEXT NOT NULL PRIMARY KEY,
		outcome TEXT NOT NULL,
		processed_at TIMESTAMP NOT NULL
	)`

	// Activities audit log
	sqlCreateActivitiesTable = `CREATE TABLE IF NOT EXISTS activities (
		id TEXT NOT NULL PRIMARY KEY,
		activity_uri TEXT UNIQUE NOT NULL,
		activity_type TEXT NOT NULL,
		actor_uri TEXT NOT NULL,
		object_uri TEXT NOT NULL DEFAULT '',
		raw_json TEXT NOT NULL,
		inner_activity_id TEXT REFERENCES activities(id),
		created_at TIMESTAMP NOT NULL
	)`

	sqlCreateActivitiesIndices = `
		CREATE INDEX IF NOT EXISTS idx_activities_type ON activities(activity_type);
		CREATE INDEX IF NOT EXISTS idx_activities_object_uri ON activities(object_uri);
		CREATE INDEX IF NOT EXISTS idx_activities_created_at ON activities(created_at DESC);
	`

	// Delivery queue table
	sqlCreateDeliveryQueueTable = `CREATE TABLE IF NOT EXISTS delivery_queue (
		id TEXT NOT NULL PRIMARY KEY,
		inbox_uri TEXT NOT NULL,
		activity_json TEXT NOT NULL,
		actor_id TEXT NOT NULL,
		attempts INTEGER NOT NULL DEFAULT 0,
		next_retry_at TIMESTAMP NOT NULL,
		created_at TIMESTAMP NOT NULL
	)`

	sqlCreateDeliveryQueueIndices = `
		CREATE INDEX IF NOT EXISTS idx_delivery_queue_next_retry ON delivery_queue(next_retry_at);
	`

	sqlCreateInstancesTable = `CREATE TABLE IF NOT EXISTS instances (
		domain TEXT NOT NULL PRIMARY KEY,
		last_successful_deliver TIMESTAMP,
		last_failed_deliver TIMESTAMP,
		failed_delivers INTEGER NOT NULL DEFAULT 0,
		is_dead INTEGER NOT NULL DEFAULT 0,
		is_banned INTEGER NOT NULL DEFAULT 0,
		is_explicitly_allowed INTEGER NOT NULL DEFAULT 0,
		updated_at TIMESTAMP NOT NULL
	)`
)

type migration struct {
	table   string
	create  string
	indices string
}

var migrations = []migration{
	{"actors", sqlCreateActorsTable, sqlCreateActorsIndices},
	{"contents", sqlCreateContentsTable, sqlCreateContentsIndices},
	{"votes", sqlCreateVotesTable, sqlCreateVotesIndices},
	{"magazine_subscriptions", sqlCreateSubscriptionsTable, ""},
	{"user_follows", sqlCreateUserFollowsTable, sqlCreateFollowIndices},
	{"moderators", sqlCreateModeratorsTable, ""},
	{"magazine_bans", sqlCreateBansTable, sqlCreateBansIndices},
	{"reports", sqlCreateReportsTable, ""},
	{"magazine_logs", sqlCreateMagazineLogsTable, sqlCreateMagazineLogsIndices},
	{"processed_activities", sqlCreateProcessedActivitiesTable, ""},
	{"activities", sqlCreateActivitiesTable, sqlCreateActivitiesIndices},
	{"delivery_queue", sqlCreateDeliveryQueueTable, sqlCreateDeliveryQueueIndices},
	{"instances", sqlCreateInstancesTable, ""},
}

// RunMigrations creates every table and index the inbox needs. It is safe to
// run on every start.
func (db *DB) RunMigrations() error {
	log.Println("Running database migrations...")
	return db.InTx(context.Background(), func(tx *Tx) error {
		for _, m := range migrations {
			if err := tx.createTableIfNotExists(m.create, m.table); err != nil {
				return err
			}
		}

		// Create indices
		for _, m := range migrations {
			if m.indices == "" {
				continue
			}
			if _, err := tx.exec(m.indices); err != nil {
				log.Printf("Warning: Failed to create %s indices: %v", m.table, err)
			}
		}
		return nil
	})
}

func (t *Tx) createTableIfNotExists(createSQL string, tableName string) error {
	_, err := t.exec(createSQL)
	if err != nil {
		log.Printf("Error creating table %s: %v", tableName, err)
		return err
	}
	log.Printf("Table %s created or already exists", tableName)
	return nil
}
