package storage

const (
	insertRunSQL = `
INSERT INTO runs (external_run_id,
                  file_name,
                  start_ts,
                  end_ts,
                  sampling_interval_s,
                  device_id,
                  diaper_type,
                  sensor_layout,
                  notes)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	insertReadingSQL = `
INSERT INTO readings (run_id,
                      timestamp,
                      t_elapsed_s,
                      sensor_id,
                      temp_c,
                      rh_pct)
VALUES (?, ?, ?, ?, ?, ?)`

	insertLabelSQL = `
INSERT INTO labels (run_id,
                    event_type,
                    event_time_s,
                    event_ts,
                    volume_ml,
                    location_label,
                    distance_cm,
                    water_temp_c,
                    confidence,
                    source,
                    notes)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	upsertRegistrySQL = `
INSERT INTO run_registry (external_run_id,
                          status,
                          planned_or_recorded_ts,
                          test_device,
                          sensor_cap,
                          diaper_type,
                          test_protocol,
                          findings_comments,
                          test_result_ref,
                          log_file_ref,
                          source_file,
                          source_row_number)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(external_run_id) DO UPDATE SET
    status = excluded.status,
    planned_or_recorded_ts = excluded.planned_or_recorded_ts,
    test_device = excluded.test_device,
    sensor_cap = excluded.sensor_cap,
    diaper_type = excluded.diaper_type,
    test_protocol = excluded.test_protocol,
    findings_comments = excluded.findings_comments,
    test_result_ref = excluded.test_result_ref,
    log_file_ref = excluded.log_file_ref,
    source_file = excluded.source_file,
    source_row_number = excluded.source_row_number`

	attachRunSQL = `
UPDATE run_registry SET run_id = ? WHERE registry_id = ?`

	registryColumns = `
    registry_id,
    external_run_id,
    status,
    planned_or_recorded_ts,
    test_device,
    sensor_cap,
    diaper_type,
    test_protocol,
    findings_comments,
    test_result_ref,
    log_file_ref,
    source_file,
    source_row_number,
    run_id`

	selectRegistryByLogFileSQL = `
SELECT` + registryColumns + `
FROM run_registry
WHERE
    TRIM(log_file_ref) = ?`

	selectRegistryByExternalSQL = `
SELECT` + registryColumns + `
FROM run_registry
WHERE
    external_run_id = ?`

	selectRunSQL = `
SELECT
    run_id,
    external_run_id,
    file_name,
    start_ts,
    end_ts,
    sampling_interval_s,
    device_id,
    diaper_type,
    sensor_layout,
    notes
FROM runs
WHERE
    run_id = ?`

	countReadingsSQL = `SELECT COUNT(*) FROM readings WHERE run_id = ?`
	countLabelsSQL   = `SELECT COUNT(*) FROM labels WHERE run_id = ?`
	countRegistrySQL = `SELECT COUNT(*) FROM run_registry`
)
