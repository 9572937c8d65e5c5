// Package write implements the write pipeline: a create or update of one
// object runs through a fixed sequence of stages, any of which may reject
// the write or answer it early.
//
// Stage order:
//
//	build_acl                       resolve the caller's ACL subjects
//	validate_client_class_creation  reject writes to unknown classes
//	handle_installation             dedupe _Installation rows
//	handle_session                  guard and create _Session rows
//	validate_auth_data              username, password and authData rules
//	before_save                     run the beforeSave hook
//	validate_schema                 check and record field types
//	set_required_fields             stamp timestamps, objectId and defaults
//	transform_user                  hash passwords, check uniqueness
//	expand_files                    expand files of an early response (finally)
//	destroy_duplicated_sessions     revoke older sessions of the installation
//	run_database_operation          persist and build the response
//	create_session_token            log a signed-up user in (finally)
//	handle_followups                session revocation, verification email
//	after_save                      afterSave hook and live query
//	clean_user_auth_data            drop unlinked providers (finally)
//
// A stage that answers early short-circuits the pipeline; after that only
// the stages marked finally still run.
package write
