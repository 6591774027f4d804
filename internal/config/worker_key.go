package config

type WorkerKeyStruct struct {
	PersistRemoteFailuresQueue string
	DeadRemoteFailuresQueue    string
}

var WorkerKey = &WorkerKeyStruct{
	PersistRemoteFailuresQueue: "persist_remote_failures_queue",
	DeadRemoteFailuresQueue:    "dead_remote_failures_queue",
}
