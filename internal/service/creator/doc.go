// Package creator runs the create-ota-job workflow.
//
// A run resolves the caller identity, makes sure the job id is free, signs the
// firmware binary, provisions an IoT stream for it, renders the OTA job
// document and finally submits the IoT job. Every run leaves a report of the
// resources it created, including partial progress when a stage fails.
package creator
