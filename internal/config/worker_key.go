package config

type WorkerKeyStruct struct {
	PersistWarningsQueue    string
	PersistSubmissionsQueue string
}

var WorkerKey = &WorkerKeyStruct{
	PersistWarningsQueue:    "persist_warnings_queue",
	PersistSubmissionsQueue: "persist_submissions_queue",
}
