package sqlinline

const QSelectSelfiesByKeys = `--sql 2936dea2-58c4-4e43-bf52-47407b2f0dfb
select key, coalesce(processed_key, ''), classification, validation_flags
from selfies
where key = any($1::text[]);
`

const QUpdateSelfieClassification = `--sql cbac8529-e4f8-4d6f-bd17-6d4ad92351af
update selfies
set classification = $2::jsonb, updated_at = now()
where key = $1::text;
`

const QUpdateSelfieProcessedKey = `--sql b72e4f01-572a-4f0c-8f02-ff3cebecd45d
update selfies
set processed_key = $2::text, updated_at = now()
where key = $1::text;
`
