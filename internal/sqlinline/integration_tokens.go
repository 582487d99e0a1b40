package sqlinline

const QSelectProviderKey = `--sql 097d0b6f-8172-4296-8fde-273109dcdcab
select token
from integration_tokens
where provider = $1::text
  and btrim(token) <> '';
`

const QUpsertProviderKey = `--sql 8abc8516-2f5c-462f-b579-1a3d50c6dc77
insert into integration_tokens (provider, token, properties)
values ($1::text, $2::text, coalesce($3::jsonb, '{}'::jsonb))
on conflict (provider) do update
set token = excluded.token,
    properties = integration_tokens.properties || excluded.properties,
    updated_at = now();
`
