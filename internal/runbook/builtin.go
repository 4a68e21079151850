package runbook

import "github.com/soarhq/riposte/internal/model"

// Builtin returns the shipped runbook catalog. Parameters use
// {{target}} placeholders expanded against the incident's target asset
// at execution time.
func Builtin() []model.Runbook {
	return []model.Runbook{
		bruteForceRunbook(),
		ransomwareRunbook(),
		malwareHashRunbook(),
		exfiltrationRunbook(),
		phishingRunbook(),
	}
}

// bruteForceRunbook responds to credential brute-force: block the
// source IP at the network layer, then force-expire the targeted
// account's sessions.
func bruteForceRunbook() model.Runbook {
	return model.Runbook{
		ID:            "rb-bruteforce-v1",
		Version:       "1.2.0",
		MatchCategory: "brute_force",
		Description:   "Block offending source and revoke targeted sessions",
		Actions: []model.ActionSpec{
			{
				Tool:           "network",
				Operation:      "block_ip",
				Class:          model.OpReversible,
				TargetClass:    "workstation",
				Parameters:     map[string]string{"ip": "{{target}}", "direction": "inbound"},
				RollbackHint:   "unblock_ip",
				ExpectedEffect: "no_inbound_from:{{target}}",
			},
			{
				Tool:           "identity",
				Operation:      "revoke_sessions",
				Class:          model.OpReversible,
				TargetClass:    "workstation",
				Parameters:     map[string]string{"account": "{{target}}"},
				RollbackHint:   "restore_sessions",
				ExpectedEffect: "sessions_revoked:{{target}}",
			},
		},
	}
}

// ransomwareRunbook isolates the host and kills the encrypting process
// tree. Isolation of protected asset classes is escalated by the gate,
// not here.
func ransomwareRunbook() model.Runbook {
	return model.Runbook{
		ID:            "rb-ransomware-v1",
		Version:       "2.0.1",
		MatchCategory: "ransomware",
		Description:   "Isolate host and terminate encryption activity",
		Actions: []model.ActionSpec{
			{
				Tool:           "endpoint",
				Operation:      "isolate_host",
				Class:          model.OpReversible,
				TargetClass:    "server",
				Parameters:     map[string]string{"host": "{{target}}"},
				RollbackHint:   "unisolate_host",
				ExpectedEffect: "host_isolated:{{target}}",
			},
			{
				Tool:           "endpoint",
				Operation:      "kill_process_tree",
				Class:          model.OpDestructive,
				TargetClass:    "server",
				Parameters:     map[string]string{"host": "{{target}}", "match": "encryptor"},
				RollbackHint:   "",
				MinApprovals:   1,
				ExpectedEffect: "process_absent:{{target}}",
			},
		},
	}
}

// malwareHashRunbook quarantines a file by hash across the fleet.
func malwareHashRunbook() model.Runbook {
	return model.Runbook{
		ID:            "rb-malware-hash-v1",
		Version:       "1.0.3",
		MatchCategory: "malware",
		Description:   "Quarantine file by hash fleet-wide",
		Actions: []model.ActionSpec{
			{
				Tool:           "endpoint",
				Operation:      "quarantine_hash",
				Class:          model.OpReversible,
				TargetClass:    "workstation",
				Parameters:     map[string]string{"hash": "{{target}}"},
				RollbackHint:   "unquarantine_hash",
				ExpectedEffect: "hash_quarantined:{{target}}",
			},
		},
	}
}

// exfiltrationRunbook cuts the egress path and disables the implicated
// account. Disabling accounts is never fully automatic below L3.
func exfiltrationRunbook() model.Runbook {
	return model.Runbook{
		ID:            "rb-exfil-v1",
		Version:       "1.1.0",
		MatchCategory: "exfiltration",
		Description:   "Block egress destination and disable implicated account",
		Actions: []model.ActionSpec{
			{
				Tool:           "network",
				Operation:      "block_egress",
				Class:          model.OpReversible,
				TargetClass:    "server",
				Parameters:     map[string]string{"destination": "{{target}}"},
				RollbackHint:   "unblock_egress",
				ExpectedEffect: "no_egress_to:{{target}}",
			},
			{
				Tool:           "identity",
				Operation:      "disable_account",
				Class:          model.OpReversible,
				TargetClass:    "server",
				Parameters:     map[string]string{"account": "{{target}}"},
				RollbackHint:   "enable_account",
				MinApprovals:   1,
				ExpectedEffect: "account_disabled:{{target}}",
			},
		},
	}
}

// phishingRunbook is telemetry-first: sweep mailboxes for the reported
// message, then quarantine matches.
func phishingRunbook() model.Runbook {
	return model.Runbook{
		ID:            "rb-phishing-v1",
		Version:       "1.0.0",
		MatchCategory: "phishing",
		Description:   "Sweep and quarantine reported phishing message",
		Actions: []model.ActionSpec{
			{
				Tool:           "telemetry",
				Operation:      "query_mailflow",
				Class:          model.OpReadOnly,
				TargetClass:    "workstation",
				Parameters:     map[string]string{"message_id": "{{target}}"},
				RollbackHint:   "",
				ExpectedEffect: "query_completed:{{target}}",
			},
			{
				Tool:           "endpoint",
				Operation:      "quarantine_message",
				Class:          model.OpReversible,
				TargetClass:    "workstation",
				Parameters:     map[string]string{"message_id": "{{target}}"},
				RollbackHint:   "release_message",
				ExpectedEffect: "message_quarantined:{{target}}",
			},
		},
	}
}
